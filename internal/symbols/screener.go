package symbols

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"gapscan/internal/marketdata"
)

// ScreenerFilter is the criteria body posted to the screener endpoint.
type ScreenerFilter struct {
	MinPrice        float64 `json:"min_price"`
	MaxPrice        float64 `json:"max_price"`
	MinDollarVolume float64 `json:"min_dollar_volume"`
	MaxMarketCap    float64 `json:"max_market_cap,omitempty"`
	MinChangePct    float64 `json:"min_change_pct,omitempty"`
	Limit           int     `json:"limit"`
}

// DefaultScreenerFilter matches the small-cap mover profile.
func DefaultScreenerFilter() ScreenerFilter {
	return ScreenerFilter{
		MinPrice:        1.0,
		MaxPrice:        30.0,
		MinDollarVolume: 500_000,
		MaxMarketCap:    500_000_000,
		MinChangePct:    5.0,
		Limit:           200,
	}
}

type screenerResponse struct {
	Results []struct {
		Symbol string `json:"symbol"`
	} `json:"results"`
}

// Screener refreshes the ticker universe from the upstream screener.
type Screener struct {
	client *marketdata.Client
}

// NewScreener wires the screener to a batch client.
func NewScreener(client *marketdata.Client) *Screener {
	return &Screener{client: client}
}

// Run posts the filter and returns the matching tickers, sorted and
// with non-standard symbols dropped. A failed run returns an error so
// the caller can keep the previous universe.
func (s *Screener) Run(ctx context.Context, filter ScreenerFilter) ([]string, error) {
	body, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	payloads := []marketdata.Payload{{Key: "screener", Body: bytes.NewReader(body)}}
	validate := func(key string, body []byte) error {
		var parsed screenerResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("malformed screener response: %w", err)
		}
		return nil
	}

	responses, failures := s.client.Dispatch(ctx, marketdata.EndpointScreener, payloads, validate)
	if len(failures) > 0 {
		return nil, fmt.Errorf("screener: %w", failures[0])
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("screener: empty dispatch")
	}

	var parsed screenerResponse
	if err := json.Unmarshal(responses[0].Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode screener: %w", err)
	}

	tickers := make([]string, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if IsValidTicker(r.Symbol) {
			tickers = append(tickers, r.Symbol)
		} else {
			log.Printf("[SCREENER] skipping non-standard symbol %q", r.Symbol)
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}
