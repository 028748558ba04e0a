package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gapscan/pkg/model"
)

func sampleEvent() model.PatternEvent {
	return model.PatternEvent{
		ID:        "evt-1",
		Ticker:    "AAA",
		Pattern:   model.PatternInitialPop,
		BarSize:   model.BarOneMinute,
		Trigger:   time.Date(2026, 3, 4, 9, 47, 0, 0, time.UTC),
		Close:     11.7,
		Volume:    4000,
		ChangePct: 17.0,
		Reference: 10.0,
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got model.PatternEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := sampleEvent()
	n := NewWebhookNotifier(srv.URL)
	if err := n.Notify(context.Background(), &ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Ticker != "AAA" || got.Pattern != model.PatternInitialPop {
		t.Errorf("delivered event = %+v", got)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ev := sampleEvent()
	n := NewWebhookNotifier(srv.URL)
	if err := n.Notify(context.Background(), &ev); err == nil {
		t.Error("5xx response did not error")
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, *model.PatternEvent) error {
	r.calls++
	return r.err
}

func TestMultiContinuesPastFailure(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	working := &recordingNotifier{}

	ev := sampleEvent()
	m := Multi{failing, working}
	if err := m.Notify(context.Background(), &ev); err == nil {
		t.Error("Multi swallowed the failure")
	}
	if working.calls != 1 {
		t.Errorf("second notifier called %d times, want 1", working.calls)
	}
}
