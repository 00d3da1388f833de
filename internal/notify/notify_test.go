package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vecsync/vecsync/internal/syncer"
)

func TestSyncCompletedDeliversEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, 0)
	w.SyncCompleted(context.Background(), syncer.Result{
		FilesProcessed:  3,
		VectorsUpserted: 12,
		Duration:        1500 * time.Millisecond,
	})

	if got.Type != "sync_completed" {
		t.Errorf("event type = %q, want sync_completed", got.Type)
	}
	if got.FilesProcessed != 3 || got.VectorsUpserted != 12 || got.DurationMs != 1500 {
		t.Errorf("event = %+v", got)
	}
}

func TestSlowRunEmitsExtraEvent(t *testing.T) {
	var types []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &ev)
		types = append(types, ev.Type)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second)
	w.SyncCompleted(context.Background(), syncer.Result{Duration: 5 * time.Second})

	if len(types) != 2 || types[0] != "sync_completed" || types[1] != "sync_slow" {
		t.Errorf("delivered events = %v, want [sync_completed sync_slow]", types)
	}
}

func TestEmptyURLIsNoOp(t *testing.T) {
	w := NewWebhook("", time.Second)
	// Must not panic or attempt any network call.
	w.SyncCompleted(context.Background(), syncer.Result{Duration: time.Minute})
	w.SyncFailed(context.Background(), io.ErrUnexpectedEOF)
}

func TestSyncFailedCarriesMessage(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, 0)
	w.SyncFailed(context.Background(), io.ErrUnexpectedEOF)

	if got.Type != "sync_failed" {
		t.Errorf("event type = %q, want sync_failed", got.Type)
	}
	if got.Message == "" {
		t.Error("failure event has no message")
	}
}
