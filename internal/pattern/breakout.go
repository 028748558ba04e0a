package pattern

import (
	"math"

	"gapscan/internal/candle"
	"gapscan/pkg/model"
)

// BreakoutConfig holds the intraday breakout settings.
type BreakoutConfig struct {
	// MinDollarVolume is the floor a bar's dollar-volume must clear to
	// count at all.
	MinDollarVolume float64 `yaml:"min_dollar_volume"`
	// TopVolumeRank is the N of the top-N dollar-volume confirmation.
	TopVolumeRank int `yaml:"top_volume_rank"`
}

// DefaultBreakoutConfig returns the default settings.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{
		MinDollarVolume: 250_000,
		TopVolumeRank:   3,
	}
}

// Breakout flags the first bar whose close or high exceeds every prior
// bar in the frame, with dollar-volume confirmation.
type Breakout struct {
	cfg BreakoutConfig
}

// NewBreakout creates the variant.
func NewBreakout(cfg BreakoutConfig) *Breakout {
	return &Breakout{cfg: cfg}
}

func (v *Breakout) Name() model.PatternName {
	return model.PatternBreakout
}

func (v *Breakout) BarSize() model.BarSize {
	return model.BarOneMinute
}

// Detect builds two candidate matrices, high-over-prior-highs and
// close-over-prior-highs. The high candidate ranks first on ties, but
// it is suppressed whenever the second-highest prior high is undefined
// since the breakout magnitude cannot be computed, leaving the close
// candidate to win.
func (v *Breakout) Detect(in Input) []model.PatternEvent {
	frame := in.Intraday
	if frame == nil || frame.Len() == 0 {
		return nil
	}

	closeBreak := Matrix{}
	highBreak := Matrix{}

	for _, ticker := range frame.Tickers() {
		s := frame.Series(ticker)
		n := frame.Len()

		closeCol := make([]bool, n)
		highCol := make([]bool, n)

		runMax := math.NaN()    // highest high among prior bars
		secondMax := math.NaN() // second-highest, defines breakout magnitude
		priorBars := 0

		for i := 0; i < n; i++ {
			if s.Valid(i) && priorBars > 0 && !math.IsNaN(runMax) {
				volOK := s.DollarVolume[i] >= v.cfg.MinDollarVolume
				closeCol[i] = volOK && s.Close[i] > runMax
				if priorBars >= 2 && !math.IsNaN(secondMax) {
					highCol[i] = volOK && s.High[i] > runMax
				}
			}
			if s.Valid(i) {
				if math.IsNaN(runMax) || s.High[i] > runMax {
					secondMax = runMax
					runMax = s.High[i]
				} else if math.IsNaN(secondMax) || s.High[i] > secondMax {
					secondMax = s.High[i]
				}
				priorBars++
			}
		}

		closeBreak[ticker] = closeCol
		highBreak[ticker] = highCol
	}

	occs := FirstOccurrences(
		Candidate{Name: "breakout-high", Mask: highBreak},
		Candidate{Name: "breakout-close", Mask: closeBreak},
	)

	gate := VolumeGate{Floor: v.cfg.MinDollarVolume, TopN: v.cfg.TopVolumeRank}

	var events []model.PatternEvent
	for _, ticker := range sortedKeys(occs) {
		occ := occs[ticker]
		s := frame.Series(ticker)
		if !gate.Admit(s.DollarVolume, occ.Index) {
			continue
		}
		// Reference is the level that was breached: the highest high
		// among bars before the trigger.
		reference := highestBefore(s, occ.Index)
		if ev, ok := buildEvent(frame, v.Name(), occ, reference); ok {
			events = append(events, ev)
		}
	}
	return events
}

func highestBefore(s *candle.Series, idx int) float64 {
	max := math.NaN()
	for i := 0; i < idx; i++ {
		if s.Valid(i) && (math.IsNaN(max) || s.High[i] > max) {
			max = s.High[i]
		}
	}
	return max
}
