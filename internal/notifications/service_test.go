package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"waveq/internal/config"
	"waveq/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "task_x", "denoise", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected nil config to produce noop, got %v", err)
	}
}

type captured struct {
	title, tags, priority, body string
}

type captureLog struct {
	mu    sync.Mutex
	items []captured
}

func (c *captureLog) snapshot() []captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]captured(nil), c.items...)
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captureLog) {
	t.Helper()
	got := &captureLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		defer got.mu.Unlock()
		got.items = append(got.items, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyJobFailed(ctx, "task_1", "denoise", "exit status 1"); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if err := svc.NotifyWorkflowCompleted(ctx, "workflow_1", "podcast_production", 4, 90*time.Second); err != nil {
		t.Fatalf("NotifyWorkflowCompleted: %v", err)
	}
	if err := svc.NotifyWorkflowFailed(ctx, "workflow_2", "voice_enhancement", "trim", "timeout"); err != nil {
		t.Fatalf("NotifyWorkflowFailed: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("disk full"), "cleanup"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}

	want := []captured{
		{"WaveQ - Job Failed", "waveq,job,failed", "high", "denoise job task_1 failed: exit status 1"},
		{"WaveQ - Workflow Complete", "waveq,workflow,completed", "", "podcast_production workflow workflow_1 finished 4 steps in 1m30s"},
		{"WaveQ - Workflow Failed", "waveq,workflow,failed", "high", "voice_enhancement workflow workflow_2 stopped at trim: timeout"},
		{"WaveQ - Error", "waveq,error,alert", "high", "Error with cleanup: disk full"},
	}
	items := got.snapshot()
	if len(items) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(items))
	}
	for i, w := range want {
		if items[i] != w {
			t.Fatalf("notification %d = %+v, want %+v", i, items[i], w)
		}
	}
}

func TestNtfyServiceRespectsToggles(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.JobFailures = false
	cfg.Notifications.Workflows = false
	svc := notifications.NewService(&cfg)

	_ = svc.NotifyJobFailed(context.Background(), "task_1", "denoise", "x")
	_ = svc.NotifyWorkflowCompleted(context.Background(), "workflow_1", "custom", 1, time.Second)
	if items := got.snapshot(); len(items) != 0 {
		t.Fatalf("expected disabled alerts to be skipped, got %d", len(items))
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := captureServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
