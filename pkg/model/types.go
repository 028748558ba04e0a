package model

import "time"

// BarSize is the duration one OHLCV candle covers.
type BarSize int

const (
	BarOneMinute BarSize = iota
	BarFiveMinute
	BarDaily
)

// String returns the bar size label used in dedup keys and logs.
func (b BarSize) String() string {
	switch b {
	case BarOneMinute:
		return "1min"
	case BarFiveMinute:
		return "5min"
	case BarDaily:
		return "1day"
	default:
		return "unknown"
	}
}

// Duration returns the span of one bar. Daily bars are aligned to the
// business-day calendar, not to a fixed 24h interval.
func (b BarSize) Duration() time.Duration {
	switch b {
	case BarOneMinute:
		return time.Minute
	case BarFiveMinute:
		return 5 * time.Minute
	default:
		return 24 * time.Hour
	}
}

// Intraday reports whether the bar size is finer than a day.
func (b BarSize) Intraday() bool {
	return b != BarDaily
}

// CandleColour classifies a bar by close vs open.
type CandleColour int

const (
	ColourGrey CandleColour = iota // open == close, or bar missing
	ColourGreen
	ColourRed
)

func (c CandleColour) String() string {
	switch c {
	case ColourGreen:
		return "green"
	case ColourRed:
		return "red"
	default:
		return "grey"
	}
}

// PatternName identifies one of the concrete pattern variants.
type PatternName int

const (
	PatternInitialPop PatternName = iota
	PatternInitialDip
	PatternBreakout
	PatternPrevDaySupport
	PatternPrevDayContinuation
)

func (p PatternName) String() string {
	switch p {
	case PatternInitialPop:
		return "initial-pop"
	case PatternInitialDip:
		return "initial-dip"
	case PatternBreakout:
		return "breakout"
	case PatternPrevDaySupport:
		return "prevday-support"
	case PatternPrevDayContinuation:
		return "prevday-continuation"
	default:
		return "unknown"
	}
}

// Shortability is the tri-state shortable flag from reference data.
type Shortability int

const (
	ShortableUnknown Shortability = iota
	ShortableYes
	ShortableNo
)

// Contract holds reference data for one ticker. It is created on the
// first successful reference-data fetch and mutated only by the contract
// cache; it lives for the scan session.
type Contract struct {
	Symbol          string       `json:"symbol"`
	Exchange        string       `json:"exchange"`
	CompanyName     string       `json:"company_name"`
	Sector          string       `json:"sector,omitempty"` // empty until backfilled
	MarketCap       float64      `json:"market_cap"`
	Shortable       Shortability `json:"shortable"`
	ShortableShares int64        `json:"shortable_shares"`
	RebateRate      float64      `json:"rebate_rate"`
	PrevClose       float64      `json:"prev_close"`
}

// CandleBar is a single OHLCV bar, immutable once fetched.
type CandleBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PatternEvent is emitted when a variant's first qualifying occurrence
// survives every gate. It is immutable and consumed once by the
// notification gate.
type PatternEvent struct {
	ID      string      `json:"id"`
	Ticker  string      `json:"ticker"`
	Pattern PatternName `json:"pattern"`
	BarSize BarSize     `json:"bar_size"`

	// Trigger is the first timestamp at which all criteria held.
	Trigger time.Time `json:"trigger"`

	// Snapshot values are read at the latest frame row, not the trigger
	// row, so the alert reflects the current state since the occurrence.
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	ChangePct float64 `json:"change_pct"`

	// Reference is the historical level that was breached or re-tested
	// (previous high, prior ramp-day low, ...). Zero when not applicable.
	Reference float64 `json:"reference,omitempty"`
}

// DedupKey identifies a notification for at-most-once delivery. The
// trigger timestamp is truncated to the bar's minute resolution.
type DedupKey struct {
	Ticker  string
	Trigger time.Time
	Pattern PatternName
	BarSize BarSize
}

// Key builds the DedupKey for an event.
func (e *PatternEvent) Key() DedupKey {
	return DedupKey{
		Ticker:  e.Ticker,
		Trigger: e.Trigger.Truncate(time.Minute),
		Pattern: e.Pattern,
		BarSize: e.BarSize,
	}
}
