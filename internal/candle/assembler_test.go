package candle

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"gapscan/internal/marketdata"
	"gapscan/internal/ratelimit"
	"gapscan/pkg/model"
)

// historyServer serves parallel-array bars for the symbols it knows;
// unknown symbols get an empty no_data payload.
func historyServer(t *testing.T, bars map[string][]model.CandleBar) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		bs, ok := bars[sym]
		if !ok || len(bs) == 0 {
			fmt.Fprint(w, `{"s":"no_data","t":[]}`)
			return
		}
		var ts, os, hs, ls, cs, vs []string
		for _, b := range bs {
			ts = append(ts, strconv.FormatInt(b.Time.Unix(), 10))
			os = append(os, fmt.Sprintf("%g", b.Open))
			hs = append(hs, fmt.Sprintf("%g", b.High))
			ls = append(ls, fmt.Sprintf("%g", b.Low))
			cs = append(cs, fmt.Sprintf("%g", b.Close))
			vs = append(vs, strconv.FormatInt(b.Volume, 10))
		}
		fmt.Fprintf(w, `{"s":"ok","t":[%s],"o":[%s],"h":[%s],"l":[%s],"c":[%s],"v":[%s]}`,
			strings.Join(ts, ","), strings.Join(os, ","), strings.Join(hs, ","),
			strings.Join(ls, ","), strings.Join(cs, ","), strings.Join(vs, ","))
	}))
}

func testContracts(syms ...string) map[string]*model.Contract {
	out := make(map[string]*model.Contract, len(syms))
	for _, s := range syms {
		out[s] = &model.Contract{Symbol: s, PrevClose: 10.0}
	}
	return out
}

func TestGridMinuteSpacing(t *testing.T) {
	cal := NewCalendar("xnys")
	a := NewAssembler(nil, cal)

	// Tuesday 2024-01-16, 10:30 ET: a one-hour lookback sits fully
	// inside the regular session.
	asOf := time.Date(2024, 1, 16, 10, 30, 0, 0, cal.Location())
	grid := a.Grid(model.BarOneMinute, time.Hour, false, asOf)

	if len(grid) != 61 {
		t.Fatalf("Expected 61 one-minute slots over one hour inclusive, got %d", len(grid))
	}
	for i := 1; i < len(grid); i++ {
		if grid[i].Sub(grid[i-1]) != time.Minute {
			t.Fatalf("Grid not evenly spaced at %d: %s", i, grid[i].Sub(grid[i-1]))
		}
	}
}

func TestGridClipsToSessionWindow(t *testing.T) {
	cal := NewCalendar("xnys")
	a := NewAssembler(nil, cal)

	// 09:45 ET with a one-hour lookback: slots before 09:30 are outside
	// the regular session and must be excluded.
	asOf := time.Date(2024, 1, 16, 9, 45, 0, 0, cal.Location())
	grid := a.Grid(model.BarOneMinute, time.Hour, false, asOf)

	if len(grid) != 16 {
		t.Fatalf("Expected 16 slots (09:30-09:45), got %d", len(grid))
	}
	if grid[0].Hour() != 9 || grid[0].Minute() != 30 {
		t.Errorf("Grid should start at 09:30, got %s", grid[0])
	}
}

func TestGridDailyExcludesWeekends(t *testing.T) {
	cal := NewCalendar("xnys")
	a := NewAssembler(nil, cal)

	// Friday 2024-01-12 back one week: the weekend (13th/14th) must be
	// absent.
	asOf := time.Date(2024, 1, 16, 16, 0, 0, 0, cal.Location())
	grid := a.Grid(model.BarDaily, 7*24*time.Hour, false, asOf)

	for _, d := range grid {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("Weekend day %s in daily grid", d.Format("2006-01-02"))
		}
	}
	if len(grid) == 0 {
		t.Fatal("Expected a non-empty daily grid")
	}
}

func TestAssembleGridInvariant(t *testing.T) {
	cal := NewCalendar("xnys")
	asOf := time.Date(2024, 1, 16, 10, 0, 0, 0, cal.Location())

	// FULL returns every bar, PART only the first five minutes, GHOST
	// nothing at all.
	start := time.Date(2024, 1, 16, 9, 30, 0, 0, cal.Location())
	var full, part []model.CandleBar
	for i := 0; i <= 30; i++ {
		b := model.CandleBar{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: 10, High: 10.5, Low: 9.9, Close: 10.2, Volume: 1000,
		}
		full = append(full, b)
		if i < 5 {
			part = append(part, b)
		}
	}

	srv := historyServer(t, map[string][]model.CandleBar{"FULL": full, "PART": part})
	defer srv.Close()

	client := marketdata.NewClient(srv.URL, ratelimit.NewRegistry())
	a := NewAssembler(client, cal)

	frame, err := a.Assemble(context.Background(), testContracts("FULL", "PART", "GHOST"),
		model.BarOneMinute, 30*time.Minute, false, asOf)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	wantRows := len(a.Grid(model.BarOneMinute, 30*time.Minute, false, asOf))
	if frame.Len() != wantRows {
		t.Errorf("Grid invariant violated: frame has %d rows, canonical grid has %d", frame.Len(), wantRows)
	}

	// Partial data keeps the full grid with null rows.
	partSeries := frame.Series("PART")
	if partSeries == nil {
		t.Fatal("PART should appear in the frame")
	}
	if len(partSeries.Close) != wantRows {
		t.Errorf("PART series has %d rows, want %d", len(partSeries.Close), wantRows)
	}

	// Zero usable bars excludes the ticker entirely.
	if frame.Series("GHOST") != nil {
		t.Error("GHOST returned no bars and must be excluded from the frame")
	}
}

func TestAssembleDailyPriorCloseReference(t *testing.T) {
	cal := NewCalendar("xnys")
	asOf := time.Date(2024, 3, 7, 16, 0, 0, 0, cal.Location())

	day := func(d int, close float64) model.CandleBar {
		return model.CandleBar{
			Time: time.Date(2024, 3, d, 0, 0, 0, 0, cal.Location()),
			Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 50_000,
		}
	}

	// DECL declines inside the window and has no bar before it. The
	// contract carries PrevClose 10 (yesterday's close), but that must
	// never seed a daily frame: the first row's change stays null
	// instead of registering a phantom +100% day. CTXT has a bar on the
	// prior trading day (Friday the 1st), so its first row changes
	// against that close.
	srv := historyServer(t, map[string][]model.CandleBar{
		"DECL": {day(4, 20), day(5, 18), day(6, 10)},
		"CTXT": {day(1, 25), day(4, 20), day(5, 18), day(6, 10)},
	})
	defer srv.Close()

	client := marketdata.NewClient(srv.URL, ratelimit.NewRegistry())
	a := NewAssembler(client, cal)

	frame, err := a.Assemble(context.Background(), testContracts("DECL", "CTXT"),
		model.BarDaily, 72*time.Hour, false, asOf)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	decl := frame.Series("DECL")
	if decl == nil {
		t.Fatal("DECL missing from the frame")
	}
	if !math.IsNaN(decl.CloseChangePct[0]) {
		t.Errorf("DECL first row change = %v, want null", decl.CloseChangePct[0])
	}
	if got := decl.CloseChangePct[1]; math.Abs(got+10) > 1e-9 {
		t.Errorf("DECL second row change = %v, want -10", got)
	}

	ctxt := frame.Series("CTXT")
	if ctxt == nil {
		t.Fatal("CTXT missing from the frame")
	}
	if got := ctxt.CloseChangePct[0]; math.Abs(got+20) > 1e-9 {
		t.Errorf("CTXT first row change = %v, want -20", got)
	}
	// The pre-window bar feeds the reference only; it must not land on
	// the grid.
	if ctxt.Close[0] != 20 {
		t.Errorf("CTXT first row close = %v, want 20", ctxt.Close[0])
	}
}

func TestAssembleAuthFailureAbandons(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cal := NewCalendar("xnys")
	client := marketdata.NewClient(srv.URL, ratelimit.NewRegistry())
	a := NewAssembler(client, cal)

	asOf := time.Date(2024, 1, 16, 10, 0, 0, 0, cal.Location())
	_, err := a.Assemble(context.Background(), testContracts("AAPL"),
		model.BarOneMinute, 30*time.Minute, false, asOf)
	if err == nil {
		t.Error("Expected auth failure to abandon the assembly")
	}
}
