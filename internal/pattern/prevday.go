package pattern

import (
	"math"
	"time"

	"gapscan/internal/candle"
	"gapscan/pkg/model"
)

// PrevDaySupportConfig holds the previous-day support thresholds.
type PrevDaySupportConfig struct {
	// RampPct is the minimum daily close-to-close percent move for a
	// day to count as a ramp day.
	RampPct float64 `yaml:"ramp_pct"`
	// TolerancePct is the band, in percent of the reference level,
	// within which a bar counts as touching it.
	TolerancePct float64 `yaml:"tolerance_pct"`
}

// DefaultPrevDaySupportConfig returns the default thresholds.
func DefaultPrevDaySupportConfig() PrevDaySupportConfig {
	return PrevDaySupportConfig{
		RampPct:      20.0,
		TolerancePct: 2.0,
	}
}

// PrevDaySupport flags the first bar whose low or close comes back
// within tolerance of the most recent ramp day's open or low.
type PrevDaySupport struct {
	cfg PrevDaySupportConfig
}

// NewPrevDaySupport creates the variant.
func NewPrevDaySupport(cfg PrevDaySupportConfig) *PrevDaySupport {
	return &PrevDaySupport{cfg: cfg}
}

func (v *PrevDaySupport) Name() model.PatternName {
	return model.PatternPrevDaySupport
}

func (v *PrevDaySupport) BarSize() model.BarSize {
	return model.BarOneMinute
}

func (v *PrevDaySupport) Detect(in Input) []model.PatternEvent {
	frame := in.Intraday
	if frame == nil || frame.Len() == 0 {
		return nil
	}
	refs := rampDayRefs(in.Daily, frame.Grid[0], v.cfg.RampPct)

	touch := Matrix{}
	for _, ticker := range frame.Tickers() {
		s := frame.Series(ticker)
		ref, ok := refs[ticker]
		if !ok || ref.Open <= 0 || ref.Low <= 0 {
			continue
		}

		n := frame.Len()
		col := make([]bool, n)
		for i := 0; i < n; i++ {
			if !s.Valid(i) {
				continue
			}
			col[i] = withinTolerance(s.Low[i], ref.Open, v.cfg.TolerancePct) ||
				withinTolerance(s.Low[i], ref.Low, v.cfg.TolerancePct) ||
				withinTolerance(s.Close[i], ref.Open, v.cfg.TolerancePct) ||
				withinTolerance(s.Close[i], ref.Low, v.cfg.TolerancePct)
		}
		touch[ticker] = col
	}

	occs := FirstOccurrences(Candidate{Name: "prevday-support", Mask: touch})

	var events []model.PatternEvent
	for _, ticker := range sortedKeys(occs) {
		occ := occs[ticker]
		ref := refs[ticker]
		if ev, ok := buildEvent(frame, v.Name(), occ, ref.Low); ok {
			events = append(events, ev)
		}
	}
	return events
}

// PrevDayContinuationConfig holds the previous-day continuation
// thresholds.
type PrevDayContinuationConfig struct {
	// RampPct is the minimum daily close-to-close percent move for a
	// day to count as a ramp day.
	RampPct float64 `yaml:"ramp_pct"`
	// GapUpPct is the minimum open-over-prior-close percent gap that
	// qualifies on its own.
	GapUpPct float64 `yaml:"gap_up_pct"`
	// TolerancePct is the band, in percent of the ramp day's high,
	// within which a bar's close or high counts as reaching it.
	TolerancePct float64 `yaml:"tolerance_pct"`
}

// DefaultPrevDayContinuationConfig returns the default thresholds.
func DefaultPrevDayContinuationConfig() PrevDayContinuationConfig {
	return PrevDayContinuationConfig{
		RampPct:      20.0,
		GapUpPct:     5.0,
		TolerancePct: 2.0,
	}
}

// PrevDayContinuation flags the first bar that either gaps up over the
// prior close or pushes back within tolerance of the most recent ramp
// day's high.
type PrevDayContinuation struct {
	cfg PrevDayContinuationConfig
}

// NewPrevDayContinuation creates the variant.
func NewPrevDayContinuation(cfg PrevDayContinuationConfig) *PrevDayContinuation {
	return &PrevDayContinuation{cfg: cfg}
}

func (v *PrevDayContinuation) Name() model.PatternName {
	return model.PatternPrevDayContinuation
}

func (v *PrevDayContinuation) BarSize() model.BarSize {
	return model.BarOneMinute
}

func (v *PrevDayContinuation) Detect(in Input) []model.PatternEvent {
	frame := in.Intraday
	if frame == nil || frame.Len() == 0 {
		return nil
	}
	refs := rampDayRefs(in.Daily, frame.Grid[0], v.cfg.RampPct)

	cont := Matrix{}
	for _, ticker := range frame.Tickers() {
		s := frame.Series(ticker)
		ref, ok := refs[ticker]
		if !ok || ref.High <= 0 {
			continue
		}
		prevClose := priorClose(s.PriorClose, ref.Close)
		if prevClose <= 0 {
			continue
		}

		n := frame.Len()
		col := make([]bool, n)
		for i := 0; i < n; i++ {
			if !s.Valid(i) {
				continue
			}
			gapPct := (s.Open[i] - prevClose) / prevClose * 100
			col[i] = gapPct >= v.cfg.GapUpPct ||
				withinTolerance(s.Close[i], ref.High, v.cfg.TolerancePct) ||
				withinTolerance(s.High[i], ref.High, v.cfg.TolerancePct)
		}
		cont[ticker] = col
	}

	occs := FirstOccurrences(Candidate{Name: "prevday-continuation", Mask: cont})

	var events []model.PatternEvent
	for _, ticker := range sortedKeys(occs) {
		occ := occs[ticker]
		ref := refs[ticker]
		if ev, ok := buildEvent(frame, v.Name(), occ, ref.High); ok {
			events = append(events, ev)
		}
	}
	return events
}

// withinTolerance reports whether value lies within tolPct percent of
// the reference level.
func withinTolerance(value, ref, tolPct float64) bool {
	if ref <= 0 || math.IsNaN(value) {
		return false
	}
	return math.Abs(value-ref)/ref*100 <= tolPct
}

// rampDayRefs extracts, per ticker, the most recent daily row strictly
// before the session date whose close-to-close change cleared rampPct.
func rampDayRefs(daily *candle.Frame, sessionDate time.Time, rampPct float64) map[string]priorDayRef {
	out := make(map[string]priorDayRef)
	if daily == nil {
		return out
	}
	y, m, d := sessionDate.Date()

	for _, ticker := range daily.Tickers() {
		s := daily.Series(ticker)
		for i := len(daily.Grid) - 1; i >= 0; i-- {
			gy, gm, gd := daily.Grid[i].Date()
			sameOrLater := gy > y || (gy == y && (gm > m || (gm == m && gd >= d)))
			if sameOrLater || !s.Valid(i) {
				continue
			}
			if math.IsNaN(s.CloseChangePct[i]) || s.CloseChangePct[i] < rampPct {
				continue
			}
			out[ticker] = priorDayRef{
				Open:      s.Open[i],
				High:      s.High[i],
				Low:       s.Low[i],
				Close:     s.Close[i],
				UpperBody: s.UpperBody[i],
				LowerBody: s.LowerBody[i],
				ChangePct: s.CloseChangePct[i],
				Date:      daily.Grid[i],
			}
			break
		}
	}
	return out
}
