package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"gapscan/pkg/model"
)

// Notifier delivers one structured pattern event. Formatting and
// delivery channels live behind this interface; the scan pipeline only
// hands over the event.
type Notifier interface {
	Notify(ctx context.Context, event *model.PatternEvent) error
}

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event *model.PatternEvent) error {
	log.Printf("[ALERT] %s %s %s trigger=%s close=%.2f change=%.1f%% vol=%.0f ref=%.2f",
		event.Pattern, event.Ticker, event.BarSize,
		event.Trigger.Format("15:04"), event.Close, event.ChangePct,
		event.Volume, event.Reference)
	return nil
}

// WebhookNotifier POSTs events as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for the URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event *model.PatternEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans one event out to several notifiers. Failures are logged
// and do not block the remaining notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event *model.PatternEvent) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			log.Printf("[NOTIFY] %s %s: %v", event.Pattern, event.Ticker, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
