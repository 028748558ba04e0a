package candle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"time"

	"gapscan/internal/marketdata"
	"gapscan/pkg/model"
)

// Session hours in the exchange time zone.
type sessionWindow struct {
	openHour, openMin   int
	closeHour, closeMin int
}

var (
	regularSession  = sessionWindow{9, 30, 16, 0}
	extendedSession = sessionWindow{4, 0, 20, 0}
)

func (w sessionWindow) contains(t time.Time) bool {
	mins := t.Hour()*60 + t.Minute()
	open := w.openHour*60 + w.openMin
	close := w.closeHour*60 + w.closeMin
	return mins >= open && mins <= close
}

// Assembler fetches raw bars through the batch client and assembles
// them into time-aligned frames with derived indicators.
type Assembler struct {
	client *marketdata.Client
	cal    *Calendar
}

// NewAssembler creates an assembler over the batch client and trading
// calendar.
func NewAssembler(client *marketdata.Client, cal *Calendar) *Assembler {
	return &Assembler{client: client, cal: cal}
}

// Grid computes the canonical time grid for a bar size and lookback
// window ending at asOf. Minute grids are evenly spaced within session
// hours on trading days; daily grids follow the business-day calendar.
func (a *Assembler) Grid(barSize model.BarSize, lookback time.Duration, extendedHours bool, asOf time.Time) []time.Time {
	asOf = asOf.In(a.cal.Location())

	if barSize == model.BarDaily {
		return a.cal.BusinessDays(asOf.Add(-lookback), asOf)
	}

	window := regularSession
	if extendedHours {
		window = extendedSession
	}

	step := barSize.Duration()
	start := asOf.Add(-lookback).Truncate(step)

	var grid []time.Time
	for t := start; !t.After(asOf); t = t.Add(step) {
		if !a.cal.IsTradingDay(t) {
			continue
		}
		if !window.contains(t) {
			continue
		}
		grid = append(grid, t)
	}
	return grid
}

// historyResponse mirrors the upstream's parallel-array bar payload.
type historyResponse struct {
	Status string    `json:"s"`
	Times  []int64   `json:"t"`
	Opens  []float64 `json:"o"`
	Highs  []float64 `json:"h"`
	Lows   []float64 `json:"l"`
	Closes []float64 `json:"c"`
	Vols   []int64   `json:"v"`
}

func (h *historyResponse) bars(loc *time.Location) []model.CandleBar {
	bars := make([]model.CandleBar, 0, len(h.Times))
	for i := range h.Times {
		if i >= len(h.Opens) || i >= len(h.Highs) || i >= len(h.Lows) || i >= len(h.Closes) {
			continue
		}
		var vol int64
		if i < len(h.Vols) {
			vol = h.Vols[i]
		}
		bars = append(bars, model.CandleBar{
			Time:   time.Unix(h.Times[i], 0).In(loc),
			Open:   h.Opens[i],
			High:   h.Highs[i],
			Low:    h.Lows[i],
			Close:  h.Closes[i],
			Volume: vol,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars
}

// closeBefore returns the close of the latest bar strictly before t,
// zero when none was fetched.
func closeBefore(bars []model.CandleBar, t time.Time) float64 {
	var prior float64
	for _, b := range bars {
		if !b.Time.Before(t) {
			break
		}
		prior = b.Close
	}
	return prior
}

// Assemble fetches raw bars for every contract, reindexes each ticker
// onto the canonical grid and derives the indicator set. Tickers that
// produce zero usable bars are excluded and logged; callers must not
// assume every requested ticker appears in the output. Auth failures
// abandon the assembly.
func (a *Assembler) Assemble(ctx context.Context, contracts map[string]*model.Contract, barSize model.BarSize, lookback time.Duration, extendedHours bool, asOf time.Time) (*Frame, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	grid := a.Grid(barSize, lookback, extendedHours, asOf)
	frame := NewFrame(grid, barSize)
	if len(grid) == 0 || len(contracts) == 0 {
		return frame, nil
	}

	from := grid[0]
	if barSize == model.BarDaily {
		// Reach one trading day past the window so the first grid row
		// has a real close to change against.
		from = a.cal.PriorTradingDay(grid[0])
	}
	to := asOf.In(a.cal.Location())

	symbols := make([]string, 0, len(contracts))
	for sym := range contracts {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	payloads := make([]marketdata.Payload, len(symbols))
	for i, sym := range symbols {
		payloads[i] = marketdata.Payload{
			Key: sym,
			Query: url.Values{
				"symbol":   {sym},
				"bar_size": {barSize.String()},
				"from":     {strconv.FormatInt(from.Unix(), 10)},
				"to":       {strconv.FormatInt(to.Unix(), 10)},
				"extended": {strconv.FormatBool(extendedHours)},
			},
		}
	}

	validate := func(key string, body []byte) error {
		var hist historyResponse
		if err := json.Unmarshal(body, &hist); err != nil {
			return fmt.Errorf("unmarshal history: %w", err)
		}
		if hist.Status != "ok" || len(hist.Times) == 0 {
			return fmt.Errorf("no usable bars for %s (status %q)", key, hist.Status)
		}
		return nil
	}

	successes, failures := a.client.Dispatch(ctx, marketdata.EndpointHistory, payloads, validate)
	if marketdata.AuthFailures(failures) {
		for _, f := range failures {
			if f.Class == marketdata.ClassAuthFailure {
				return nil, fmt.Errorf("history fetch: %w", f)
			}
		}
	}
	for _, f := range failures {
		log.Printf("[ASSEMBLE] %s excluded from %s frame: %v", f.Key, barSize, f.Err)
	}

	for _, resp := range successes {
		var hist historyResponse
		if err := json.Unmarshal(resp.Body, &hist); err != nil {
			log.Printf("[ASSEMBLE] %s: malformed history: %v", resp.Key, err)
			continue
		}
		bars := hist.bars(a.cal.Location())
		if len(bars) == 0 {
			log.Printf("[ASSEMBLE] %s: zero usable bars, excluded", resp.Key)
			continue
		}

		// The contract's reference close belongs to the session's prior
		// day, so it only seeds intraday frames. A daily window reaches
		// further back; its reference is the fetched close preceding
		// the grid, null when the upstream returned none.
		var priorClose float64
		if barSize == model.BarDaily {
			priorClose = closeBefore(bars, grid[0])
		} else if ct := contracts[resp.Key]; ct != nil {
			priorClose = ct.PrevClose
		}
		if err := frame.Add(resp.Key, NewSeries(grid, bars, priorClose)); err != nil {
			return nil, err
		}
	}

	if barSize == model.BarDaily {
		frame.DropAllNullRows()
	}

	return frame, nil
}
