package pattern

import (
	"testing"
	"time"

	"gapscan/internal/candle"
	"gapscan/pkg/model"
)

var (
	sessionOpen = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	priorDay    = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	rampDay     = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func minuteGrid(n int) []time.Time {
	grid := make([]time.Time, n)
	for i := range grid {
		grid[i] = sessionOpen.Add(time.Duration(i) * time.Minute)
	}
	return grid
}

type ohlcv struct {
	o, h, l, c float64
	v          int64
}

func seriesOf(t *testing.T, grid []time.Time, priorClose float64, rows []ohlcv) *candle.Series {
	t.Helper()
	if len(rows) > len(grid) {
		t.Fatalf("rows %d exceed grid %d", len(rows), len(grid))
	}
	bars := make([]model.CandleBar, 0, len(rows))
	for i, r := range rows {
		if r == (ohlcv{}) {
			continue // null row
		}
		bars = append(bars, model.CandleBar{
			Time: grid[i], Open: r.o, High: r.h, Low: r.l, Close: r.c, Volume: r.v,
		})
	}
	return candle.NewSeries(grid, bars, priorClose)
}

func frameOf(t *testing.T, grid []time.Time, barSize model.BarSize, tickers map[string]*candle.Series) *candle.Frame {
	t.Helper()
	f := candle.NewFrame(grid, barSize)
	for ticker, s := range tickers {
		if err := f.Add(ticker, s); err != nil {
			t.Fatalf("add %s: %v", ticker, err)
		}
	}
	return f
}

// dailyWith builds a two-day daily frame whose last row is the prior
// session's bar for each ticker.
func dailyWith(t *testing.T, priorBars map[string]ohlcv) *candle.Frame {
	t.Helper()
	grid := []time.Time{rampDay, priorDay}
	series := make(map[string]*candle.Series, len(priorBars))
	for ticker, b := range priorBars {
		series[ticker] = seriesOf(t, grid, 0, []ohlcv{{}, b})
	}
	return frameOf(t, grid, model.BarDaily, series)
}

func TestInitialPopDetect(t *testing.T) {
	grid := minuteGrid(4)
	daily := dailyWith(t, map[string]ohlcv{
		"POPR": {o: 9.5, h: 10.2, l: 9.4, c: 10.0, v: 100_000},
		"FLAT": {o: 9.5, h: 10.2, l: 9.4, c: 10.0, v: 100_000},
	})
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		"POPR": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.0, h: 10.1, l: 9.9, c: 10.05, v: 1000},  // no gap
			{o: 10.6, h: 11.0, l: 10.5, c: 10.9, v: 5000},  // gap but change under threshold
			{o: 10.8, h: 11.8, l: 10.7, c: 11.6, v: 8000},  // first qualifying bar
			{o: 11.6, h: 11.9, l: 11.4, c: 11.7, v: 4000},  // also qualifies, not first
		}),
		"FLAT": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.0, h: 10.1, l: 9.9, c: 10.0, v: 1000},
			{o: 10.0, h: 10.1, l: 9.9, c: 10.05, v: 1000},
			{o: 10.05, h: 10.1, l: 9.9, c: 10.0, v: 1000},
			{o: 10.0, h: 10.1, l: 9.9, c: 10.05, v: 1000},
		}),
	})

	v := NewInitialPop(DefaultInitialPopConfig())
	events := v.Detect(Input{Intraday: intraday, Daily: daily})

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Ticker != "POPR" {
		t.Errorf("ticker = %s, want POPR", ev.Ticker)
	}
	if ev.Pattern != model.PatternInitialPop {
		t.Errorf("pattern = %s, want %s", ev.Pattern, model.PatternInitialPop)
	}
	if !ev.Trigger.Equal(grid[2]) {
		t.Errorf("trigger = %v, want %v", ev.Trigger, grid[2])
	}
	if ev.Reference != 10.0 {
		t.Errorf("reference = %v, want 10.0", ev.Reference)
	}
	// Snapshot reads the latest row, not the trigger row.
	if ev.Close != 11.7 {
		t.Errorf("close = %v, want 11.7", ev.Close)
	}
	if got, want := ev.ChangePct, 17.0; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("changePct = %v, want %v", got, want)
	}
	if ev.ID == "" {
		t.Error("event ID is empty")
	}
}

func TestInitialPopMarketCapCeiling(t *testing.T) {
	grid := minuteGrid(1)
	daily := dailyWith(t, map[string]ohlcv{
		"POPR": {o: 9.5, h: 10.2, l: 9.4, c: 10.0, v: 100_000},
	})
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		"POPR": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.8, h: 11.8, l: 10.7, c: 11.6, v: 8000},
		}),
	})

	v := NewInitialPop(DefaultInitialPopConfig())

	large := Input{Intraday: intraday, Daily: daily, Contracts: map[string]*model.Contract{
		"POPR": {Symbol: "POPR", MarketCap: 5_000_000_000},
	}}
	if events := v.Detect(large); len(events) != 0 {
		t.Errorf("large-cap ticker produced events: %+v", events)
	}

	small := Input{Intraday: intraday, Daily: daily, Contracts: map[string]*model.Contract{
		"POPR": {Symbol: "POPR", MarketCap: 45_000_000},
	}}
	if events := v.Detect(small); len(events) != 1 {
		t.Errorf("small-cap ticker produced %d events, want 1", len(events))
	}

	// Missing reference data passes; the ceiling only acts on a known
	// market cap.
	unknown := Input{Intraday: intraday, Daily: daily}
	if events := v.Detect(unknown); len(events) != 1 {
		t.Errorf("unknown market cap produced %d events, want 1", len(events))
	}
}

func TestInitialPopRejectsGreyCandle(t *testing.T) {
	grid := minuteGrid(1)
	daily := dailyWith(t, map[string]ohlcv{
		"GREY": {o: 9.5, h: 10.2, l: 9.4, c: 10.0, v: 100_000},
	})
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		// Gap and change both clear thresholds, but open == close.
		"GREY": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 11.6, h: 11.8, l: 11.5, c: 11.6, v: 5000},
		}),
	})

	v := NewInitialPop(DefaultInitialPopConfig())
	if events := v.Detect(Input{Intraday: intraday, Daily: daily}); len(events) != 0 {
		t.Errorf("grey candle produced events: %+v", events)
	}
}

func TestInitialPopSkipsTickerWithoutPriorDay(t *testing.T) {
	grid := minuteGrid(1)
	daily := dailyWith(t, map[string]ohlcv{
		"OTHR": {o: 9.5, h: 10.2, l: 9.4, c: 10.0, v: 100_000},
	})
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		"NEWB": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.8, h: 11.8, l: 10.7, c: 11.6, v: 8000},
		}),
	})

	v := NewInitialPop(DefaultInitialPopConfig())
	if events := v.Detect(Input{Intraday: intraday, Daily: daily}); len(events) != 0 {
		t.Errorf("ticker without prior day produced events: %+v", events)
	}
}

func TestInitialDipDetect(t *testing.T) {
	grid := minuteGrid(3)
	daily := dailyWith(t, map[string]ohlcv{
		"DIPR": {o: 10.5, h: 10.8, l: 9.8, c: 10.0, v: 100_000}, // lower body 10.0
	})
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		"DIPR": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 9.6, h: 9.7, l: 9.3, c: 9.4, v: 2000},  // gap -4%, not enough
			{o: 9.4, h: 9.5, l: 8.3, c: 8.4, v: 6000},  // upper body 9.4, gap -6%, change -16%, red
			{o: 8.4, h: 8.6, l: 8.2, c: 8.5, v: 1500},  // green, ignored
		}),
	})

	v := NewInitialDip(DefaultInitialDipConfig())
	events := v.Detect(Input{Intraday: intraday, Daily: daily})

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Pattern != model.PatternInitialDip {
		t.Errorf("pattern = %s, want %s", ev.Pattern, model.PatternInitialDip)
	}
	if !ev.Trigger.Equal(grid[1]) {
		t.Errorf("trigger = %v, want %v", ev.Trigger, grid[1])
	}
	if ev.Reference != 10.0 {
		t.Errorf("reference = %v, want 10.0", ev.Reference)
	}
}

func TestBreakoutDetect(t *testing.T) {
	grid := minuteGrid(5)
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		// Close at index 3 exceeds every prior high; volume well over floor.
		"BRKO": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.0, h: 10.5, l: 9.9, c: 10.2, v: 40_000},
			{o: 10.2, h: 10.4, l: 10.0, c: 10.1, v: 35_000},
			{o: 10.1, h: 10.3, l: 10.0, c: 10.2, v: 30_000},
			{o: 10.2, h: 10.8, l: 10.1, c: 10.7, v: 90_000},
			{o: 10.7, h: 10.9, l: 10.5, c: 10.8, v: 50_000},
		}),
		// Never exceeds the opening bar's high.
		"STAY": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.0, h: 11.0, l: 9.9, c: 10.2, v: 40_000},
			{o: 10.2, h: 10.4, l: 10.0, c: 10.1, v: 35_000},
			{o: 10.1, h: 10.3, l: 10.0, c: 10.2, v: 30_000},
			{o: 10.2, h: 10.8, l: 10.1, c: 10.7, v: 90_000},
			{o: 10.7, h: 10.9, l: 10.5, c: 10.8, v: 50_000},
		}),
	})

	cfg := BreakoutConfig{MinDollarVolume: 100_000, TopVolumeRank: 3}
	v := NewBreakout(cfg)
	events := v.Detect(Input{Intraday: intraday})

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Ticker != "BRKO" {
		t.Errorf("ticker = %s, want BRKO", ev.Ticker)
	}
	if !ev.Trigger.Equal(grid[3]) {
		t.Errorf("trigger = %v, want %v", ev.Trigger, grid[3])
	}
	// Reference is the level breached: the highest prior high.
	if ev.Reference != 10.5 {
		t.Errorf("reference = %v, want 10.5", ev.Reference)
	}
}

func TestBreakoutVolumeGateExcludes(t *testing.T) {
	grid := minuteGrid(5)
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		// The breakout bar clears the floor but three other bars carry
		// strictly more dollar volume, so a top-3 gate rejects it.
		"THIN": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.0, h: 10.5, l: 9.9, c: 10.2, v: 90_000},
			{o: 10.2, h: 10.4, l: 10.0, c: 10.1, v: 80_000},
			{o: 10.1, h: 10.3, l: 10.0, c: 10.2, v: 70_000},
			{o: 10.2, h: 10.8, l: 10.1, c: 10.7, v: 20_000},
			{o: 10.7, h: 10.75, l: 10.5, c: 10.6, v: 50_000},
		}),
	})

	cfg := BreakoutConfig{MinDollarVolume: 100_000, TopVolumeRank: 3}
	v := NewBreakout(cfg)
	if events := v.Detect(Input{Intraday: intraday}); len(events) != 0 {
		t.Errorf("gated breakout produced events: %+v", events)
	}
}

func TestBreakoutHighNeedsTwoPriorBars(t *testing.T) {
	grid := minuteGrid(2)
	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		// The second bar's high exceeds the only prior bar but its close
		// does not. With a single prior bar the high candidate is
		// suppressed, so nothing fires.
		"ONEB": seriesOf(t, grid, 10.0, []ohlcv{
			{o: 10.0, h: 10.5, l: 9.9, c: 10.2, v: 90_000},
			{o: 10.2, h: 10.8, l: 10.0, c: 10.3, v: 90_000},
		}),
	})

	cfg := BreakoutConfig{MinDollarVolume: 1000, TopVolumeRank: 0}
	v := NewBreakout(cfg)
	if events := v.Detect(Input{Intraday: intraday}); len(events) != 0 {
		t.Errorf("high breakout fired without breakout magnitude: %+v", events)
	}
}

func TestPrevDaySupportDetect(t *testing.T) {
	grid := minuteGrid(3)
	// Ramp day: +25% close over a synthetic prior close carried by the
	// frame's first-row change, open 8.0, low 7.8.
	dailyGrid := []time.Time{rampDay, priorDay}
	dailySeries := seriesOf(t, dailyGrid, 8.0, []ohlcv{
		{o: 8.0, h: 10.5, l: 7.8, c: 10.0, v: 500_000}, // +25% ramp
		{o: 10.0, h: 10.2, l: 9.0, c: 9.2, v: 200_000}, // pullback day
	})
	daily := frameOf(t, dailyGrid, model.BarDaily, map[string]*candle.Series{"SUPP": dailySeries})

	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		"SUPP": seriesOf(t, grid, 9.2, []ohlcv{
			{o: 9.2, h: 9.3, l: 9.0, c: 9.1, v: 3000},  // nowhere near 8.0
			{o: 9.1, h: 9.2, l: 8.1, c: 8.3, v: 7000},  // low 8.1 within 2% of open 8.0
			{o: 8.3, h: 8.6, l: 8.2, c: 8.5, v: 4000},
		}),
	})

	v := NewPrevDaySupport(DefaultPrevDaySupportConfig())
	events := v.Detect(Input{Intraday: intraday, Daily: daily})

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Pattern != model.PatternPrevDaySupport {
		t.Errorf("pattern = %s, want %s", ev.Pattern, model.PatternPrevDaySupport)
	}
	if !ev.Trigger.Equal(grid[1]) {
		t.Errorf("trigger = %v, want %v", ev.Trigger, grid[1])
	}
	if ev.Reference != 7.8 {
		t.Errorf("reference = %v, want 7.8", ev.Reference)
	}
}

func TestPrevDaySupportRequiresRampDay(t *testing.T) {
	grid := minuteGrid(1)
	dailyGrid := []time.Time{rampDay, priorDay}
	// No day clears the ramp threshold.
	dailySeries := seriesOf(t, dailyGrid, 8.0, []ohlcv{
		{o: 8.0, h: 8.5, l: 7.8, c: 8.2, v: 500_000},
		{o: 8.2, h: 8.4, l: 8.0, c: 8.1, v: 200_000},
	})
	daily := frameOf(t, dailyGrid, model.BarDaily, map[string]*candle.Series{"CALM": dailySeries})

	intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
		"CALM": seriesOf(t, grid, 8.1, []ohlcv{
			{o: 8.1, h: 8.2, l: 8.0, c: 8.05, v: 3000},
		}),
	})

	v := NewPrevDaySupport(DefaultPrevDaySupportConfig())
	if events := v.Detect(Input{Intraday: intraday, Daily: daily}); len(events) != 0 {
		t.Errorf("support fired without a ramp day: %+v", events)
	}
}

func TestPrevDayContinuationDetect(t *testing.T) {
	grid := minuteGrid(3)
	dailyGrid := []time.Time{rampDay, priorDay}
	dailySeries := seriesOf(t, dailyGrid, 8.0, []ohlcv{
		{o: 8.0, h: 10.5, l: 7.8, c: 10.0, v: 500_000}, // +25% ramp, high 10.5
		{o: 10.0, h: 10.2, l: 9.0, c: 9.2, v: 200_000},
	})
	daily := frameOf(t, dailyGrid, model.BarDaily, map[string]*candle.Series{"CONT": dailySeries})

	tests := []struct {
		name    string
		rows    []ohlcv
		wantIdx int
	}{
		{
			name: "gap up over prior close",
			rows: []ohlcv{
				{o: 9.0, h: 9.1, l: 8.9, c: 9.0, v: 2000},
				{o: 9.8, h: 9.9, l: 9.6, c: 9.7, v: 5000}, // open +6.5% over 9.2
				{o: 9.7, h: 9.8, l: 9.5, c: 9.6, v: 3000},
			},
			wantIdx: 1,
		},
		{
			name: "high reaches ramp day high",
			rows: []ohlcv{
				{o: 9.0, h: 9.1, l: 8.9, c: 9.0, v: 2000},
				{o: 9.0, h: 9.4, l: 8.9, c: 9.3, v: 5000},
				{o: 9.3, h: 10.4, l: 9.2, c: 10.0, v: 9000}, // high within 2% of 10.5
			},
			wantIdx: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intraday := frameOf(t, grid, model.BarOneMinute, map[string]*candle.Series{
				"CONT": seriesOf(t, grid, 9.2, tt.rows),
			})

			v := NewPrevDayContinuation(DefaultPrevDayContinuationConfig())
			events := v.Detect(Input{Intraday: intraday, Daily: daily})

			if len(events) != 1 {
				t.Fatalf("got %d events, want 1: %+v", len(events), events)
			}
			ev := events[0]
			if ev.Pattern != model.PatternPrevDayContinuation {
				t.Errorf("pattern = %s, want %s", ev.Pattern, model.PatternPrevDayContinuation)
			}
			if !ev.Trigger.Equal(grid[tt.wantIdx]) {
				t.Errorf("trigger = %v, want %v", ev.Trigger, grid[tt.wantIdx])
			}
			if ev.Reference != 10.5 {
				t.Errorf("reference = %v, want 10.5", ev.Reference)
			}
		})
	}
}

func TestRegistryBuildsEveryVariant(t *testing.T) {
	want := []string{"breakout", "initial-dip", "initial-pop", "prevday-support", "prevday-continuation"}

	cfg := DefaultConfig()
	for _, name := range want {
		v, err := Get(name, cfg)
		if err != nil {
			t.Errorf("Get(%s): %v", name, err)
			continue
		}
		if v == nil {
			t.Errorf("Get(%s) returned nil variant", name)
		}
	}

	if got := len(GetAll(cfg)); got != len(want) {
		t.Errorf("GetAll built %d variants, want %d", got, len(want))
	}

	if _, err := Get("no-such-variant", cfg); err == nil {
		t.Error("unknown variant did not error")
	}
}
