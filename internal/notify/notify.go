// Package notify delivers sync outcomes to an optional webhook. Delivery is
// an observable side effect only: failures are logged and never influence a
// run's result.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/vecsync/vecsync/internal/syncer"
)

// Event is one webhook payload.
type Event struct {
	Type            string   `json:"type"` // sync_completed | sync_failed | sync_slow
	Timestamp       string   `json:"timestamp"`
	FilesProcessed  int      `json:"filesProcessed,omitempty"`
	VectorsUpserted int      `json:"vectorsUpserted,omitempty"`
	VectorsDeleted  int      `json:"vectorsDeleted,omitempty"`
	DurationMs      int64    `json:"durationMs,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	Message         string   `json:"message,omitempty"`
}

// Webhook POSTs sync events to a configured URL. A Webhook with an empty
// URL is valid and does nothing.
type Webhook struct {
	url           string
	slowThreshold time.Duration
	client        *http.Client
}

// NewWebhook creates a notifier for the given URL. slowThreshold, when
// positive, additionally emits a sync_slow event for completed runs that
// took longer than it.
func NewWebhook(url string, slowThreshold time.Duration) *Webhook {
	return &Webhook{
		url:           url,
		slowThreshold: slowThreshold,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SyncCompleted reports a finished run, plus a slow-run event when the
// duration exceeds the configured threshold.
func (w *Webhook) SyncCompleted(ctx context.Context, res syncer.Result) {
	if w.url == "" {
		return
	}
	w.send(ctx, Event{
		Type:            "sync_completed",
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		FilesProcessed:  res.FilesProcessed,
		VectorsUpserted: res.VectorsUpserted,
		VectorsDeleted:  res.VectorsDeleted,
		DurationMs:      res.Duration.Milliseconds(),
		Errors:          res.Errors,
	})
	if w.slowThreshold > 0 && res.Duration > w.slowThreshold {
		w.send(ctx, Event{
			Type:       "sync_slow",
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DurationMs: res.Duration.Milliseconds(),
			Message:    fmt.Sprintf("sync took %s, threshold is %s", res.Duration.Round(time.Millisecond), w.slowThreshold),
		})
	}
}

// SyncFailed reports a run-fatal failure.
func (w *Webhook) SyncFailed(ctx context.Context, err error) {
	if w.url == "" {
		return
	}
	w.send(ctx, Event{
		Type:      "sync_failed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   err.Error(),
	})
}

func (w *Webhook) send(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: encoding %s event: %v", ev.Type, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("notify: creating webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("notify: sending %s event: %v", ev.Type, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("notify: webhook returned status %d for %s event", resp.StatusCode, ev.Type)
	}
}
