package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Governor owns the concurrency and rate state for one logical upstream
// endpoint. Every caller that dispatches to that endpoint, no matter
// which scanner thread it runs on, goes through the same Governor, so
// the endpoint's published quota holds process-wide.
type Governor struct {
	name    string
	limiter *rate.Limiter
	slots   *semaphore.Weighted

	mu      sync.Mutex
	penalty time.Duration
	maxWait time.Duration
}

// NewGovernor creates a governor allowing at most concurrency in-flight
// requests and ratePerInterval dispatches per interval.
func NewGovernor(name string, concurrency, ratePerInterval int, interval time.Duration) *Governor {
	if concurrency < 1 {
		concurrency = 1
	}
	if ratePerInterval < 1 {
		ratePerInterval = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	// Burst equals the per-interval budget so one chunk can start
	// immediately; refill pacing enforces the interval after that.
	rps := float64(ratePerInterval) / interval.Seconds()

	return &Governor{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(rps), ratePerInterval),
		slots:   semaphore.NewWeighted(int64(concurrency)),
		maxWait: 2 * time.Minute,
	}
}

// Name returns the governor's endpoint name.
func (g *Governor) Name() string {
	return g.name
}

// Acquire blocks until both a concurrency slot and a rate token are
// available. Callers must Release the slot when the request finishes.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.slots.Release(1)
		return err
	}
	return nil
}

// Release returns a concurrency slot.
func (g *Governor) Release() {
	g.slots.Release(1)
}

// Penalize doubles the penalty delay. Called when the upstream signals a
// rate-limit violation (429) despite local governing.
func (g *Governor) Penalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.penalty == 0 {
		g.penalty = time.Second
	} else {
		g.penalty *= 2
	}
	if g.penalty > g.maxWait {
		g.penalty = g.maxWait
	}
}

// ResetPenalty clears the penalty delay after a clean chunk.
func (g *Governor) ResetPenalty() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.penalty = 0
}

// Penalty returns the current penalty delay.
func (g *Governor) Penalty() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.penalty
}

// Registry holds the shared governors, keyed by endpoint name. Scanners
// hitting the same endpoint coordinate only through this registry.
type Registry struct {
	mu        sync.RWMutex
	governors map[string]*Governor
}

// NewRegistry creates an empty governor registry.
func NewRegistry() *Registry {
	return &Registry{governors: make(map[string]*Governor)}
}

// Add registers a governor for an endpoint name, replacing any existing one.
func (r *Registry) Add(name string, concurrency, ratePerInterval int, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.governors[name] = NewGovernor(name, concurrency, ratePerInterval, interval)
}

// Get returns the governor for an endpoint, or nil if none is registered.
func (r *Registry) Get(name string) *Governor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.governors[name]
}

// Ensure returns the governor for an endpoint, registering it with the
// given limits on first use.
func (r *Registry) Ensure(name string, concurrency, ratePerInterval int, interval time.Duration) *Governor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.governors[name]; ok {
		return g
	}
	g := NewGovernor(name, concurrency, ratePerInterval, interval)
	r.governors[name] = g
	return g
}
