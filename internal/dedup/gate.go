package dedup

import (
	"fmt"
	"time"

	"gapscan/pkg/model"
)

// Policy is a per-pattern alert throttle layered over the dedup check.
// Zero values disable the corresponding limit.
type Policy struct {
	// Cooldown is the minimum interval between repeat alerts for the
	// same ticker and pattern.
	Cooldown time.Duration `yaml:"cooldown"`
	// MaxPerDay caps alerts per ticker per pattern per calendar day.
	MaxPerDay int `yaml:"max_per_day"`
}

// Gate decides whether an event may be notified. ShouldNotify and
// RecordSent are a check-then-act pair with no transactional guarantee;
// the scan loop that drives them is single-threaded per scanner, which
// keeps the race out of reach. A store shared across processes would
// need a conditional insert instead.
type Gate struct {
	store    Store
	policies map[model.PatternName]Policy
}

// NewGate wires the gate to its store. policies may be nil.
func NewGate(store Store, policies map[model.PatternName]Policy) *Gate {
	return &Gate{store: store, policies: policies}
}

// ShouldNotify reports whether the event is new and within the
// pattern's alert policy.
func (g *Gate) ShouldNotify(event *model.PatternEvent) (bool, error) {
	key := event.Key()

	exists, err := g.store.ExistsSent(key)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", event.Ticker, err)
	}
	if exists {
		return false, nil
	}

	policy, ok := g.policies[event.Pattern]
	if !ok {
		return true, nil
	}

	if policy.Cooldown > 0 {
		last, found, err := g.store.LastSent(event.Ticker, event.Pattern)
		if err != nil {
			return false, fmt.Errorf("cooldown lookup %s: %w", event.Ticker, err)
		}
		if found && key.Trigger.Sub(last) < policy.Cooldown {
			return false, nil
		}
	}

	if policy.MaxPerDay > 0 {
		sent, err := g.store.CountSentToday(event.Ticker, event.Pattern, key.Trigger)
		if err != nil {
			return false, fmt.Errorf("daily cap lookup %s: %w", event.Ticker, err)
		}
		if sent >= policy.MaxPerDay {
			return false, nil
		}
	}

	return true, nil
}

// RecordSent persists the events' keys after notification.
func (g *Gate) RecordSent(events []model.PatternEvent) error {
	if len(events) == 0 {
		return nil
	}
	keys := make([]model.DedupKey, 0, len(events))
	for i := range events {
		keys = append(keys, events[i].Key())
	}
	return g.store.RecordSent(keys)
}
