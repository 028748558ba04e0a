package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"

	"gapscan/internal/marketdata"
	"gapscan/pkg/model"
)

// securityChunkSize is how many symbols one security-lookup request may
// carry (the endpoint batches by symbol count, not request count).
const securityChunkSize = 50

// Cache memoizes ticker reference data for the lifetime of a scan
// session. Entries are write-once per ticker; there is no TTL or
// invalidation, a process restart clears it.
type Cache struct {
	client *marketdata.Client

	mu      sync.RWMutex
	entries map[string]*model.Contract
}

// NewCache creates an empty contract cache over the batch client.
func NewCache(client *marketdata.Client) *Cache {
	return &Cache{
		client:  client,
		entries: make(map[string]*model.Contract),
	}
}

// Get returns the cached contract for a ticker, if present.
func (c *Cache) Get(ticker string) (*model.Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.entries[ticker]
	return ct, ok
}

// Len returns the number of cached contracts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type snapshotResponse struct {
	Symbol          string  `json:"symbol"`
	Exchange        string  `json:"exchange"`
	CompanyName     string  `json:"company_name"`
	MarketCap       float64 `json:"market_cap"`
	Shortable       *bool   `json:"shortable"`
	ShortableShares int64   `json:"shortable_shares"`
	RebateRate      float64 `json:"rebate_rate"`
	PrevClose       float64 `json:"prev_close"`
}

type securityResponse struct {
	Securities []struct {
		Symbol string `json:"symbol"`
		Sector string `json:"sector"`
	} `json:"securities"`
}

// Ensure fetches reference data for any tickers not already cached and
// returns the contracts for every requested ticker that resolved.
// Tickers absent from the reference response are logged and excluded,
// not retried inline. Auth failures are returned so the caller can
// route them to the session manager.
func (c *Cache) Ensure(ctx context.Context, tickers []string) (map[string]*model.Contract, error) {
	missing := c.missing(tickers)

	if len(missing) > 0 {
		fetched, err := c.fetchSnapshots(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(fetched) > 0 {
			if err := c.backfillSectors(ctx, fetched); err != nil {
				return nil, err
			}
		}

		c.mu.Lock()
		for sym, ct := range fetched {
			// Write-once: a concurrent Ensure may have raced us here;
			// the first write wins.
			if _, ok := c.entries[sym]; !ok {
				c.entries[sym] = ct
			}
		}
		c.mu.Unlock()
	}

	out := make(map[string]*model.Contract, len(tickers))
	c.mu.RLock()
	for _, sym := range tickers {
		if ct, ok := c.entries[sym]; ok {
			out[sym] = ct
		}
	}
	c.mu.RUnlock()
	return out, nil
}

func (c *Cache) missing(tickers []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	seen := make(map[string]bool, len(tickers))
	for _, sym := range tickers {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if _, ok := c.entries[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	sort.Strings(missing)
	return missing
}

func (c *Cache) fetchSnapshots(ctx context.Context, tickers []string) (map[string]*model.Contract, error) {
	payloads := make([]marketdata.Payload, len(tickers))
	for i, sym := range tickers {
		payloads[i] = marketdata.Payload{
			Key:   sym,
			Query: url.Values{"symbol": {sym}},
		}
	}

	validate := func(key string, body []byte) error {
		var snap snapshotResponse
		if err := json.Unmarshal(body, &snap); err != nil {
			return fmt.Errorf("unmarshal snapshot: %w", err)
		}
		if snap.Symbol == "" {
			return fmt.Errorf("snapshot for %s missing symbol field", key)
		}
		return nil
	}

	successes, failures := c.client.Dispatch(ctx, marketdata.EndpointSnapshot, payloads, validate)
	if marketdata.AuthFailures(failures) {
		return nil, fmt.Errorf("snapshot fetch: %w", firstErr(failures))
	}
	for _, f := range failures {
		log.Printf("[CONTRACTS] %s excluded from this session's cache: %v", f.Key, f.Err)
	}

	out := make(map[string]*model.Contract, len(successes))
	for _, resp := range successes {
		var snap snapshotResponse
		if err := json.Unmarshal(resp.Body, &snap); err != nil {
			log.Printf("[CONTRACTS] %s: malformed snapshot: %v", resp.Key, err)
			continue
		}
		shortable := model.ShortableUnknown
		if snap.Shortable != nil {
			if *snap.Shortable {
				shortable = model.ShortableYes
			} else {
				shortable = model.ShortableNo
			}
		}
		out[snap.Symbol] = &model.Contract{
			Symbol:          snap.Symbol,
			Exchange:        snap.Exchange,
			CompanyName:     snap.CompanyName,
			MarketCap:       snap.MarketCap,
			Shortable:       shortable,
			ShortableShares: snap.ShortableShares,
			RebateRate:      snap.RebateRate,
			PrevClose:       snap.PrevClose,
		}
	}
	return out, nil
}

// backfillSectors runs the separate sector/classification call, batched
// by symbol-count chunks, and merges results keyed by ticker. Sector
// lookup failures leave the field empty rather than failing the fetch.
func (c *Cache) backfillSectors(ctx context.Context, contracts map[string]*model.Contract) error {
	symbols := make([]string, 0, len(contracts))
	for sym := range contracts {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var payloads []marketdata.Payload
	for start := 0; start < len(symbols); start += securityChunkSize {
		end := start + securityChunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		payloads = append(payloads, marketdata.Payload{
			Key:   chunk[0],
			Query: url.Values{"symbols": {strings.Join(chunk, ",")}},
		})
	}

	successes, failures := c.client.Dispatch(ctx, marketdata.EndpointSecurity, payloads, nil)
	if marketdata.AuthFailures(failures) {
		return fmt.Errorf("sector lookup: %w", firstErr(failures))
	}
	for _, f := range failures {
		log.Printf("[CONTRACTS] sector chunk %s failed, sectors stay empty: %v", f.Key, f.Err)
	}

	for _, resp := range successes {
		var sec securityResponse
		if err := json.Unmarshal(resp.Body, &sec); err != nil {
			log.Printf("[CONTRACTS] sector chunk %s: malformed response: %v", resp.Key, err)
			continue
		}
		for _, s := range sec.Securities {
			if ct, ok := contracts[s.Symbol]; ok {
				ct.Sector = s.Sector
			}
		}
	}
	return nil
}

func firstErr(failures []marketdata.Failure) error {
	for _, f := range failures {
		if f.Class == marketdata.ClassAuthFailure {
			return f
		}
	}
	if len(failures) > 0 {
		return failures[0]
	}
	return nil
}
