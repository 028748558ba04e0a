package pattern

import (
	"gapscan/pkg/model"
)

// InitialDipConfig holds the initial-dip thresholds, expressed as
// positive magnitudes and applied as negative moves.
type InitialDipConfig struct {
	GapDownPct float64 `yaml:"gap_down_pct"`
	ChangePct  float64 `yaml:"change_pct"`
	// MaxMarketCap mirrors the pop's small-cap ceiling. Zero disables
	// it.
	MaxMarketCap float64 `yaml:"max_market_cap"`
}

// DefaultInitialDipConfig returns the default thresholds.
func DefaultInitialDipConfig() InitialDipConfig {
	return InitialDipConfig{
		GapDownPct:   5.0,
		ChangePct:    15.0,
		MaxMarketCap: 2_000_000_000,
	}
}

// InitialDip is the initial pop mirrored: a gap down under the prior
// day's body, a matching drop from the prior close, on a red candle.
type InitialDip struct {
	cfg InitialDipConfig
}

// NewInitialDip creates the variant.
func NewInitialDip(cfg InitialDipConfig) *InitialDip {
	return &InitialDip{cfg: cfg}
}

func (v *InitialDip) Name() model.PatternName {
	return model.PatternInitialDip
}

func (v *InitialDip) BarSize() model.BarSize {
	return model.BarOneMinute
}

func (v *InitialDip) Detect(in Input) []model.PatternEvent {
	frame := in.Intraday
	if frame == nil || frame.Len() == 0 {
		return nil
	}
	refs := priorDayRefs(in.Daily, frame.Grid[0])

	gapDown := Matrix{}
	change := Matrix{}
	colour := Matrix{}

	for _, ticker := range frame.Tickers() {
		if !underCap(in.Contracts, ticker, v.cfg.MaxMarketCap) {
			continue
		}
		s := frame.Series(ticker)
		ref, ok := refs[ticker]
		if !ok || ref.LowerBody <= 0 {
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
			gapPct := (s.UpperBody[i] - ref.LowerBody) / ref.LowerBody * 100
			gapCol[i] = gapPct <= -v.cfg.GapDownPct
			chgCol[i] = (s.Close[i]-prevClose)/prevClose*100 <= -v.cfg.ChangePct
			colCol[i] = s.Colour[i] == model.ColourRed
		}
		gapDown[ticker] = gapCol
		change[ticker] = chgCol
		colour[ticker] = colCol
	}

	all := And(gapDown, change, colour)
	occs := FirstOccurrences(Candidate{Name: "initial-dip", Mask: all})

	var events []model.PatternEvent
	for _, ticker := range sortedKeys(occs) {
		occ := occs[ticker]
		ref := refs[ticker]
		if ev, ok := buildEvent(frame, v.Name(), occ, ref.LowerBody); ok {
			events = append(events, ev)
		}
	}
	return events
}
