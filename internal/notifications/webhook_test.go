package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"waveq/internal/logging"
	"waveq/internal/notifications"
)

func TestWebhookDeliversPayload(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan notifications.WebhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var body notifications.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := notifications.NewWebhook(time.Second, logging.NewNop())
	ok := hook.Notify(context.Background(), srv.URL, notifications.WebhookPayload{
		TaskID: "task_0123456789abcdef",
		Status: "completed",
		Result: map[string]any{"output_path": "/out.wav"},
	})
	if !ok {
		t.Fatal("expected delivery to succeed")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single request, got %d", calls.Load())
	}
	received := <-bodies
	if received.TaskID != "task_0123456789abcdef" || received.Status != "completed" || received.Result["output_path"] != "/out.wav" {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestWebhookNon2xxReturnsFalseWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := notifications.NewWebhook(time.Second, nil)
	if hook.Notify(context.Background(), srv.URL, notifications.WebhookPayload{TaskID: "task_x", Status: "failed", Error: "boom"}) {
		t.Fatal("expected failure for 500 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls.Load())
	}
}

func TestWebhookTimeoutReturnsFalse(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	hook := notifications.NewWebhook(50*time.Millisecond, nil)
	start := time.Now()
	if hook.Notify(context.Background(), srv.URL, notifications.WebhookPayload{TaskID: "task_x", Status: "completed"}) {
		t.Fatal("expected timeout to report failure")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestWebhookUnreachableAndBlankURL(t *testing.T) {
	hook := notifications.NewWebhook(time.Second, nil)
	if hook.Notify(context.Background(), "http://127.0.0.1:1/hook", notifications.WebhookPayload{TaskID: "task_x"}) {
		t.Fatal("expected unreachable host to fail")
	}
	if hook.Notify(context.Background(), "  ", notifications.WebhookPayload{TaskID: "task_x"}) {
		t.Fatal("expected blank url to be skipped")
	}
}
