package candle

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gapscan/pkg/model"
)

// Series holds one ticker's bars reindexed onto the frame's canonical
// grid, plus the derived indicators. A missing bar is a present-but-null
// row: every slice keeps the grid's length and NaN marks the hole, so
// the frame stays rectangular for vectorized comparisons.
type Series struct {
	PriorClose float64

	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64

	CloseChangePct []float64
	CumVolume      []float64
	UpperBody      []float64
	LowerBody      []float64
	MarubozuRatio  []float64
	DollarVolume   []float64
	Colour         []model.CandleColour
}

// Valid reports whether the row holds a real bar.
func (s *Series) Valid(i int) bool {
	return i >= 0 && i < len(s.Close) && !math.IsNaN(s.Close[i])
}

// LastValid returns the index of the most recent real bar.
func (s *Series) LastValid() (int, bool) {
	for i := len(s.Close) - 1; i >= 0; i-- {
		if s.Valid(i) {
			return i, true
		}
	}
	return 0, false
}

// NewSeries reindexes raw bars onto the grid and derives the indicator
// set. Duplicate timestamps keep the first bar. priorClose is the
// reference for the first row's close change; pass 0 when unknown and
// the first row's change stays null.
func NewSeries(grid []time.Time, bars []model.CandleBar, priorClose float64) *Series {
	n := len(grid)
	s := &Series{
		PriorClose:     priorClose,
		Open:           nanSlice(n),
		High:           nanSlice(n),
		Low:            nanSlice(n),
		Close:          nanSlice(n),
		Volume:         nanSlice(n),
		CloseChangePct: nanSlice(n),
		CumVolume:      nanSlice(n),
		UpperBody:      nanSlice(n),
		LowerBody:      nanSlice(n),
		MarubozuRatio:  nanSlice(n),
		DollarVolume:   nanSlice(n),
		Colour:         make([]model.CandleColour, n),
	}

	byTime := make(map[int64]model.CandleBar, len(bars))
	for _, b := range bars {
		key := b.Time.Unix()
		if _, dup := byTime[key]; !dup {
			byTime[key] = b
		}
	}

	prevClose := priorClose
	var cumVol float64

	for i, t := range grid {
		b, ok := byTime[t.Unix()]
		if !ok {
			continue
		}

		s.Open[i] = b.Open
		s.High[i] = b.High
		s.Low[i] = b.Low
		s.Close[i] = b.Close
		s.Volume[i] = float64(b.Volume)

		if prevClose > 0 {
			s.CloseChangePct[i] = (b.Close - prevClose) / prevClose * 100
		}
		prevClose = b.Close

		cumVol += float64(b.Volume)
		s.CumVolume[i] = cumVol

		s.UpperBody[i] = math.Max(b.Open, b.Close)
		s.LowerBody[i] = math.Min(b.Open, b.Close)
		s.DollarVolume[i] = b.Close * float64(b.Volume)

		if rng := b.High - b.Low; rng > 0 {
			s.MarubozuRatio[i] = math.Abs(b.Close-b.Open) / rng
		}

		switch {
		case b.Close > b.Open:
			s.Colour[i] = model.ColourGreen
		case b.Close < b.Open:
			s.Colour[i] = model.ColourRed
		default:
			s.Colour[i] = model.ColourGrey
		}
	}

	return s
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Frame is the 2-level candle table: outer key ticker, inner key
// indicator, over a regular time grid. Rebuilt per scan cycle.
type Frame struct {
	Grid    []time.Time
	BarSize model.BarSize

	tickers []string
	series  map[string]*Series
}

// NewFrame creates an empty frame over a canonical grid.
func NewFrame(grid []time.Time, barSize model.BarSize) *Frame {
	return &Frame{
		Grid:    grid,
		BarSize: barSize,
		series:  make(map[string]*Series),
	}
}

// Add inserts a ticker's series. The series must match the grid length;
// a mismatch would silently break the rectangularity every detector
// relies on, so it is rejected here.
func (f *Frame) Add(ticker string, s *Series) error {
	if len(s.Close) != len(f.Grid) {
		return fmt.Errorf("series %s has %d rows, grid has %d", ticker, len(s.Close), len(f.Grid))
	}
	if _, ok := f.series[ticker]; !ok {
		f.tickers = append(f.tickers, ticker)
		sort.Strings(f.tickers)
	}
	f.series[ticker] = s
	return nil
}

// Tickers returns the frame's tickers in sorted order.
func (f *Frame) Tickers() []string {
	return f.tickers
}

// Series returns one ticker's series, or nil if absent.
func (f *Frame) Series(ticker string) *Series {
	return f.series[ticker]
}

// Len returns the grid length.
func (f *Frame) Len() int {
	return len(f.Grid)
}

// DropAllNullRows removes grid slots where every ticker is null (a
// miscalculated holiday leaves such rows in daily frames). Rows with at
// least one real bar are kept even if other tickers are null there.
func (f *Frame) DropAllNullRows() {
	keep := make([]int, 0, len(f.Grid))
	for i := range f.Grid {
		for _, t := range f.tickers {
			if f.series[t].Valid(i) {
				keep = append(keep, i)
				break
			}
		}
	}
	if len(keep) == len(f.Grid) {
		return
	}

	newGrid := make([]time.Time, len(keep))
	for j, i := range keep {
		newGrid[j] = f.Grid[i]
	}
	for _, s := range f.series {
		compactSeries(s, keep)
	}
	f.Grid = newGrid
}

func compactSeries(s *Series, keep []int) {
	s.Open = compactFloats(s.Open, keep)
	s.High = compactFloats(s.High, keep)
	s.Low = compactFloats(s.Low, keep)
	s.Close = compactFloats(s.Close, keep)
	s.Volume = compactFloats(s.Volume, keep)
	s.CloseChangePct = compactFloats(s.CloseChangePct, keep)
	s.CumVolume = compactFloats(s.CumVolume, keep)
	s.UpperBody = compactFloats(s.UpperBody, keep)
	s.LowerBody = compactFloats(s.LowerBody, keep)
	s.MarubozuRatio = compactFloats(s.MarubozuRatio, keep)
	s.DollarVolume = compactFloats(s.DollarVolume, keep)

	colours := make([]model.CandleColour, len(keep))
	for j, i := range keep {
		colours[j] = s.Colour[i]
	}
	s.Colour = colours
}

func compactFloats(v []float64, keep []int) []float64 {
	out := make([]float64, len(keep))
	for j, i := range keep {
		out[j] = v[i]
	}
	return out
}
