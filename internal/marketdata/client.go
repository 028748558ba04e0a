package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gapscan/internal/ratelimit"
)

// Payload is one logical request to a governed endpoint. Key identifies
// the payload in the success/failure lists (usually the ticker symbol).
type Payload struct {
	Key   string
	Query url.Values
	Body  io.Reader
}

// Response is a successfully-classified payload result.
type Response struct {
	Key  string
	Body []byte
}

// Validator inspects a 200 body for the fields the caller expects. A
// non-nil error downgrades the response to a data failure.
type Validator func(key string, body []byte) error

// Client dispatches payload batches to governed endpoints. It never
// retries internally; retry policy belongs to the caller because the
// right strategy differs by failure class.
type Client struct {
	baseURL string
	http    *http.Client
	govs    *ratelimit.Registry

	// authorize stamps session credentials onto each request. Injected
	// by the session manager.
	authorize func(*http.Request)
}

// NewClient creates a batch client over the shared governor registry.
func NewClient(baseURL string, govs *ratelimit.Registry) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		govs:    govs,
	}
}

// SetAuthorizer installs the request authorizer. Safe to call before any
// dispatching starts; the session manager owns credential rotation.
func (c *Client) SetAuthorizer(fn func(*http.Request)) {
	c.authorize = fn
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Dispatch sends payloads to one endpoint in chunks of the endpoint's
// concurrency limit. Within a chunk all requests run concurrently;
// between chunks the governor's rate budget (plus any 429 penalty) is
// awaited before the next chunk is issued. Chunk order is preserved;
// response order within a chunk is not.
func (c *Client) Dispatch(ctx context.Context, ep Endpoint, payloads []Payload, validate Validator) ([]Response, []Failure) {
	if len(payloads) == 0 {
		return nil, nil
	}

	gov := c.govs.Ensure(ep.Name, ep.Concurrency, ep.RatePerInterval, ep.Interval)

	var (
		successes []Response
		failures  []Failure
	)

	var lastChunkStart time.Time

	for start := 0; start < len(payloads); start += ep.Concurrency {
		end := start + ep.Concurrency
		if end > len(payloads) {
			end = len(payloads)
		}
		chunk := payloads[start:end]

		if start > 0 {
			// Wait out the remainder of the rate interval since the
			// previous chunk started, plus any 429 penalty.
			wait := ep.Interval - time.Since(lastChunkStart)
			if wait < 0 {
				wait = 0
			}
			wait += gov.Penalty()
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					for _, p := range payloads[start:] {
						failures = append(failures, Failure{Key: p.Key, Class: ClassTransient, Err: ctx.Err()})
					}
					return successes, failures
				}
			}
		}
		lastChunkStart = time.Now()

		chunkResp := make([]*Response, len(chunk))
		chunkFail := make([]*Failure, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		for i, p := range chunk {
			g.Go(func() error {
				resp, fail := c.send(gctx, ep, gov, p, validate)
				chunkResp[i], chunkFail[i] = resp, fail
				return nil
			})
		}
		g.Wait()

		rateLimited := false
		for i := range chunk {
			if chunkResp[i] != nil {
				successes = append(successes, *chunkResp[i])
			}
			if chunkFail[i] != nil {
				failures = append(failures, *chunkFail[i])
				if errors.Is(chunkFail[i].Err, ErrRateLimited) {
					rateLimited = true
				}
			}
		}

		if rateLimited {
			gov.Penalize()
		} else {
			gov.ResetPenalty()
		}
	}

	return successes, failures
}

// send issues a single governed request and classifies the outcome.
func (c *Client) send(ctx context.Context, ep Endpoint, gov *ratelimit.Governor, p Payload, validate Validator) (*Response, *Failure) {
	if err := gov.Acquire(ctx); err != nil {
		return nil, &Failure{Key: p.Key, Class: ClassTransient, Err: err}
	}
	defer gov.Release()

	reqURL := c.baseURL + ep.Path
	if len(p.Query) > 0 {
		reqURL += "?" + p.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, reqURL, p.Body)
	if err != nil {
		return nil, &Failure{Key: p.Key, Class: ClassDataFailure, Err: fmt.Errorf("create request: %w", err)}
	}
	if p.Body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		class, cerr := classify(0, nil, err)
		return nil, &Failure{Key: p.Key, Class: class, Err: cerr}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Failure{Key: p.Key, Class: ClassTransient, Err: fmt.Errorf("read body: %w", err)}
	}

	class, cerr := classify(resp.StatusCode, body, nil)
	if class != ClassOK {
		return nil, &Failure{Key: p.Key, Class: class, Err: cerr}
	}

	if validate != nil {
		if verr := validate(p.Key, body); verr != nil {
			return nil, &Failure{Key: p.Key, Class: ClassDataFailure, Err: verr}
		}
	}

	return &Response{Key: p.Key, Body: body}, nil
}

// AuthFailures reports whether any failure in the list is an auth
// failure, which must abandon the cycle and route to the session manager.
func AuthFailures(failures []Failure) bool {
	for _, f := range failures {
		if f.Class == ClassAuthFailure {
			return true
		}
	}
	return false
}
