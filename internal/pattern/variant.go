package pattern

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gapscan/internal/candle"
	"gapscan/pkg/model"
)

// Input carries one scan cycle's assembled state into the variants.
type Input struct {
	// Intraday is the current session's minute frame. Nil for variants
	// that only consume daily data.
	Intraday *candle.Frame

	// Daily is the daily lookback frame, including the prior session.
	Daily *candle.Frame

	// Contracts holds the reference data for every frame ticker.
	Contracts map[string]*model.Contract
}

// Variant builds its boolean criteria matrices from the frames and
// delegates occurrence-finding to the shared detector.
type Variant interface {
	Name() model.PatternName
	BarSize() model.BarSize
	Detect(in Input) []model.PatternEvent
}

// Factory builds a variant from its configuration section.
type Factory func(cfg Config) Variant

var (
	registry     = make(map[string]Factory)
	registryLock sync.RWMutex
)

// Register adds a variant factory under a name.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[name] = factory
}

// Get builds a registered variant.
func Get(name string, cfg Config) (Variant, error) {
	registryLock.RLock()
	factory, ok := registry[name]
	registryLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown pattern variant: %s (available: %v)", name, List())
	}
	return factory(cfg), nil
}

// List returns the registered variant names, sorted.
func List() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetAll builds every registered variant.
func GetAll(cfg Config) []Variant {
	names := List()
	out := make([]Variant, 0, len(names))
	for _, name := range names {
		if v, err := Get(name, cfg); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func init() {
	Register("initial-pop", func(cfg Config) Variant { return NewInitialPop(cfg.InitialPop) })
	Register("initial-dip", func(cfg Config) Variant { return NewInitialDip(cfg.InitialDip) })
	Register("breakout", func(cfg Config) Variant { return NewBreakout(cfg.Breakout) })
	Register("prevday-support", func(cfg Config) Variant { return NewPrevDaySupport(cfg.PrevDaySupport) })
	Register("prevday-continuation", func(cfg Config) Variant { return NewPrevDayContinuation(cfg.PrevDayContinuation) })
}

// Config bundles the per-variant settings.
type Config struct {
	InitialPop          InitialPopConfig          `yaml:"initial_pop"`
	InitialDip          InitialDipConfig          `yaml:"initial_dip"`
	Breakout            BreakoutConfig            `yaml:"breakout"`
	PrevDaySupport      PrevDaySupportConfig      `yaml:"prevday_support"`
	PrevDayContinuation PrevDayContinuationConfig `yaml:"prevday_continuation"`
}

// DefaultConfig returns the default settings for every variant.
func DefaultConfig() Config {
	return Config{
		InitialPop:          DefaultInitialPopConfig(),
		InitialDip:          DefaultInitialDipConfig(),
		Breakout:            DefaultBreakoutConfig(),
		PrevDaySupport:      DefaultPrevDaySupportConfig(),
		PrevDayContinuation: DefaultPrevDayContinuationConfig(),
	}
}

// underCap reports whether the ticker's market cap clears the ceiling.
// Unknown contracts pass; a zero limit disables the check.
func underCap(contracts map[string]*model.Contract, ticker string, limit float64) bool {
	if limit <= 0 {
		return true
	}
	ct := contracts[ticker]
	if ct == nil || ct.MarketCap <= 0 {
		return true
	}
	return ct.MarketCap <= limit
}

// buildEvent reads the snapshot values at the ticker's latest frame row
// (the current state since the occurrence, not the occurrence row) and
// stamps the trigger timestamp from the occurrence index.
func buildEvent(frame *candle.Frame, name model.PatternName, occ Occurrence, reference float64) (model.PatternEvent, bool) {
	s := frame.Series(occ.Ticker)
	if s == nil {
		return model.PatternEvent{}, false
	}
	last, ok := s.LastValid()
	if !ok {
		return model.PatternEvent{}, false
	}

	ev := model.PatternEvent{
		ID:        uuid.NewString(),
		Ticker:    occ.Ticker,
		Pattern:   name,
		BarSize:   frame.BarSize,
		Trigger:   frame.Grid[occ.Index],
		Close:     s.Close[last],
		Volume:    s.Volume[last],
		Reference: reference,
	}
	if s.PriorClose > 0 {
		ev.ChangePct = (s.Close[last] - s.PriorClose) / s.PriorClose * 100
	}
	return ev, true
}

// priorDayRef holds the prior session's reference levels for one ticker.
type priorDayRef struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	UpperBody float64
	LowerBody float64
	ChangePct float64
	Date      time.Time
}

// priorDayRefs extracts the last daily row strictly before the intraday
// session date for every ticker of the daily frame.
func priorDayRefs(daily *candle.Frame, sessionDate time.Time) map[string]priorDayRef {
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
