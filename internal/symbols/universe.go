package symbols

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Universe is a predefined ticker universe.
type Universe string

const (
	UniverseSmallCap Universe = "smallcap"
	UniverseActive   Universe = "active"
	UniverseTest     Universe = "test" // small set for quick runs
)

// Get returns the tickers of a universe.
func Get(u Universe) []string {
	switch u {
	case UniverseSmallCap:
		return SmallCapTickers
	case UniverseActive:
		return ActiveTickers
	case UniverseTest:
		return TestTickers
	default:
		return nil
	}
}

// TestTickers is a small set for quick testing.
var TestTickers = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA",
	"META", "TSLA", "AMD", "NFLX", "JPM",
}

// ActiveTickers is a high-dollar-volume large-cap set used when the
// screener endpoint is unavailable.
var ActiveTickers = []string{
	"AAPL", "MSFT", "GOOGL", "GOOG", "AMZN", "NVDA", "META", "TSLA", "AVGO", "ORCL",
	"CRM", "ADBE", "AMD", "ACN", "CSCO", "INTC", "IBM", "TXN", "QCOM", "AMAT",
	"JPM", "V", "MA", "BAC", "WFC", "GS", "MS", "BLK", "SPGI", "AXP",
	"UNH", "JNJ", "LLY", "PFE", "ABBV", "MRK", "TMO", "ABT", "DHR", "BMY",
	"WMT", "PG", "KO", "PEP", "COST", "MCD", "NKE", "SBUX", "TGT", "LOW",
	"CAT", "DE", "UNP", "HON", "UPS", "BA", "RTX", "LMT", "GE", "MMM",
	"XOM", "CVX", "COP", "SLB", "EOG", "MPC", "PSX", "VLO", "OXY", "KMI",
	"NFLX", "DIS", "CMCSA", "T", "VZ", "TMUS", "CHTR", "EA", "TTWO", "WBD",
}

// SmallCapTickers is a low-float mover set the gap patterns were tuned
// on. Refreshed from the screener at runtime when configured.
var SmallCapTickers = []string{
	"ABVC", "AEMD", "AGRI", "AIMD", "ALZN", "ATNF", "BFRG", "BJDX", "BNRG", "BPTS",
	"CEAD", "CEMI", "COSM", "CRKN", "CYN", "DPRO", "DRMA", "EFSH", "ENSC", "EZFL",
	"FRGT", "GFAI", "GNS", "GTII", "HUDI", "ILAG", "IMPP", "INDO", "JAGX", "KPRX",
	"LGMK", "LIPO", "MEGL", "MOB", "NAOV", "NXPL", "OPGN", "PEGY", "PIXY", "PRFX",
	"QNRX", "RELI", "SIDU", "SINT", "SOPA", "TBLT", "TOPS", "VERB", "VINE", "XELA",
}

// Load reads tickers from a file, one per line, ignoring blanks and
// lines starting with '#'.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe file: %w", err)
	}
	defer f.Close()

	var tickers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !IsValidTicker(line) {
			return nil, fmt.Errorf("invalid ticker %q in %s", line, path)
		}
		tickers = append(tickers, strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	return tickers, nil
}

// IsValidTicker checks whether a symbol is a plain US listing ticker.
func IsValidTicker(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 5 {
		return false
	}
	for _, c := range symbol {
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}
