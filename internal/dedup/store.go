package dedup

import (
	"sort"
	"sync"
	"time"

	"gapscan/pkg/model"
)

// Store is the persisted set of previously notified keys. The scan
// pipeline never embeds SQL; it depends only on this interface.
type Store interface {
	// ExistsSent reports whether the key was already notified.
	ExistsSent(key model.DedupKey) (bool, error)

	// RecordSent persists the keys. Re-recording an existing key is
	// not an error.
	RecordSent(keys []model.DedupKey) error

	// CountSentToday counts keys recorded for the ticker and pattern
	// whose trigger falls on the given date.
	CountSentToday(ticker string, pattern model.PatternName, day time.Time) (int, error)

	// LastSent returns the most recent trigger recorded for the ticker
	// and pattern, and whether one exists.
	LastSent(ticker string, pattern model.PatternName) (time.Time, bool, error)

	// ClearAll wipes the store and returns the number of removed keys.
	ClearAll() (int, error)

	Close() error
}

// MemoryStore keeps keys in a map. It backs tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[model.DedupKey]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[model.DedupKey]struct{})}
}

func (s *MemoryStore) ExistsSent(key model.DedupKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *MemoryStore) RecordSent(keys []model.DedupKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) CountSentToday(ticker string, pattern model.PatternName, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := day.Date()
	count := 0
	for k := range s.keys {
		if k.Ticker != ticker || k.Pattern != pattern {
			continue
		}
		ky, km, kd := k.Trigger.Date()
		if ky == y && km == m && kd == d {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) LastSent(ticker string, pattern model.PatternName) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var triggers []time.Time
	for k := range s.keys {
		if k.Ticker == ticker && k.Pattern == pattern {
			triggers = append(triggers, k.Trigger)
		}
	}
	if len(triggers) == 0 {
		return time.Time{}, false, nil
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Before(triggers[j]) })
	return triggers[len(triggers)-1], true, nil
}

func (s *MemoryStore) ClearAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.keys)
	s.keys = make(map[model.DedupKey]struct{})
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
