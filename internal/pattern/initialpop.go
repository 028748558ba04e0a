package pattern

import (
	"gapscan/pkg/model"
)

// InitialPopConfig holds the initial-pop thresholds.
type InitialPopConfig struct {
	// GapUpPct is the minimum gap between a bar's lower body and the
	// prior day's upper body, in percent.
	GapUpPct float64 `yaml:"gap_up_pct"`
	// ChangePct is the minimum percent move from the prior session's
	// close to the bar's close.
	ChangePct float64 `yaml:"change_pct"`
	// MaxMarketCap excludes tickers whose reference market cap exceeds
	// it, keeping the pattern on the small-cap profile. Zero disables
	// the ceiling.
	MaxMarketCap float64 `yaml:"max_market_cap"`
}

// DefaultInitialPopConfig returns the default thresholds.
func DefaultInitialPopConfig() InitialPopConfig {
	return InitialPopConfig{
		GapUpPct:     5.0,
		ChangePct:    15.0,
		MaxMarketCap: 2_000_000_000,
	}
}

// InitialPop flags the first bar of a session that gaps up over the
// prior day's body and extends the move from the prior close, on a
// non-grey candle.
type InitialPop struct {
	cfg InitialPopConfig
}

// NewInitialPop creates the variant.
func NewInitialPop(cfg InitialPopConfig) *InitialPop {
	return &InitialPop{cfg: cfg}
}

func (v *InitialPop) Name() model.PatternName {
	return model.PatternInitialPop
}

func (v *InitialPop) BarSize() model.BarSize {
	return model.BarOneMinute
}

// Detect builds the three criteria matrices (gap-up, change from prior
// close, candle colour), ANDs them and hands occurrence-finding to the
// shared detector.
func (v *InitialPop) Detect(in Input) []model.PatternEvent {
	frame := in.Intraday
	if frame == nil || frame.Len() == 0 {
		return nil
	}
	refs := priorDayRefs(in.Daily, frame.Grid[0])

	gapUp := Matrix{}
	change := Matrix{}
	colour := Matrix{}

	for _, ticker := range frame.Tickers() {
		if !underCap(in.Contracts, ticker, v.cfg.MaxMarketCap) {
			continue
		}
		s := frame.Series(ticker)
		ref, ok := refs[ticker]
		if !ok || ref.UpperBody <= 0 {
			continue
		}
		prevClose := priorClose(s.PriorClose, ref.Close)
		if prevClose <= 0 {
			continue
		}

		n := frame.Len()
		gapCol := make([]bool, n)
		chgCol := make([]bool, n)
		colCol := make([]bool, n)
		for i := 0; i < n; i++ {
			if !s.Valid(i) {
				continue
			}
			gapPct := (s.LowerBody[i] - ref.UpperBody) / ref.UpperBody * 100
			gapCol[i] = gapPct >= v.cfg.GapUpPct
			chgCol[i] = (s.Close[i]-prevClose)/prevClose*100 >= v.cfg.ChangePct
			colCol[i] = s.Colour[i] != model.ColourGrey
		}
		gapUp[ticker] = gapCol
		change[ticker] = chgCol
		colour[ticker] = colCol
	}

	all := And(gapUp, change, colour)
	occs := FirstOccurrences(Candidate{Name: "initial-pop", Mask: all})

	var events []model.PatternEvent
	for _, ticker := range sortedKeys(occs) {
		occ := occs[ticker]
		ref := refs[ticker]
		if ev, ok := buildEvent(frame, v.Name(), occ, ref.UpperBody); ok {
			events = append(events, ev)
		}
	}
	return events
}

// priorClose prefers the contract's reference close and falls back to
// the daily frame's prior row.
func priorClose(contractClose, dailyClose float64) float64 {
	if contractClose > 0 {
		return contractClose
	}
	return dailyClose
}
