package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGovernorName(t *testing.T) {
	g := NewGovernor("history", 5, 5, time.Second)
	if g.Name() != "history" {
		t.Errorf("Expected name 'history', got '%s'", g.Name())
	}
}

func TestGovernorAcquireRelease(t *testing.T) {
	g := NewGovernor("test", 2, 10, time.Second)
	ctx := context.Background()

	// Two acquires should succeed immediately.
	for i := 0; i < 2; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	// Third acquire must block until a slot is released.
	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("Third acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not proceed after Release")
	}
}

func TestGovernorBoundsConcurrency(t *testing.T) {
	g := NewGovernor("test", 3, 100, time.Second)
	ctx := context.Background()

	var inFlight, maxInFlight int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := atomic.AddInt64(&inFlight, 1)
			for {
				cur := atomic.LoadInt64(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			g.Release()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&maxInFlight); got > 3 {
		t.Errorf("Expected at most 3 in-flight requests, observed %d", got)
	}
}

func TestGovernorPenalty(t *testing.T) {
	g := NewGovernor("test", 1, 1, time.Second)

	if g.Penalty() != 0 {
		t.Error("Initial penalty should be zero")
	}

	g.Penalize()
	first := g.Penalty()
	if first <= 0 {
		t.Error("Penalty should be positive after Penalize")
	}

	g.Penalize()
	if g.Penalty() <= first {
		t.Error("Penalty should grow on repeated Penalize")
	}

	g.ResetPenalty()
	if g.Penalty() != 0 {
		t.Error("ResetPenalty should clear the delay")
	}
}

func TestGovernorContextCancellation(t *testing.T) {
	g := NewGovernor("test", 1, 1, time.Minute)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Acquire(cancelled); err == nil {
		t.Error("Expected error from cancelled context")
		g.Release()
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add("snapshot", 10, 10, time.Second)
	r.Add("screener", 1, 1, time.Second)

	if r.Get("snapshot") == nil {
		t.Error("snapshot governor should exist")
	}
	if r.Get("screener") == nil {
		t.Error("screener governor should exist")
	}
	if r.Get("unknown") != nil {
		t.Error("unknown governor should not exist")
	}

	// Ensure returns the same instance on repeat calls.
	a := r.Ensure("history", 5, 5, time.Second)
	b := r.Ensure("history", 1, 1, time.Minute)
	if a != b {
		t.Error("Ensure should return the already-registered governor")
	}
}
