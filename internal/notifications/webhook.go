package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"waveq/internal/logging"
)

const userAgent = "WaveQ/0.1.0"

const defaultWebhookTimeout = 10 * time.Second

// WebhookPayload is the body posted to a callback URL. Exactly one of Result
// or Error is set.
type WebhookPayload struct {
	TaskID string         `json:"task_id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Notifier is the callback surface used by the dispatcher and executor.
type Notifier interface {
	Notify(ctx context.Context, url string, payload WebhookPayload) bool
}

// Webhook performs one POST per notification.
type Webhook struct {
	client *http.Client
	logger *slog.Logger
}

// NewWebhook builds a notifier whose requests are bounded by timeout.
func NewWebhook(timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		client: &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "webhook"),
	}
}

// Notify posts payload to url and reports whether the receiver accepted it
// with a 2xx response. Errors are logged, never returned.
func (w *Webhook) Notify(ctx context.Context, url string, payload WebhookPayload) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}
	logger := logging.WithContext(ctx, w.logger).With(
		logging.String("callback_url", url),
		logging.String("status", payload.Status),
	)
	if err := w.post(ctx, url, payload); err != nil {
		logging.WarnWithContext(logger, "webhook delivery failed", "webhook_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify the callback URL is reachable and returns 2xx"),
			logging.String(logging.FieldImpact, "caller must poll job status instead"),
		)
		return false
	}
	logger.Info("webhook delivered", logging.String(logging.FieldEventType, "webhook_delivered"))
	return true
}

func (w *Webhook) post(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, WebhookPayload) bool { return false }
