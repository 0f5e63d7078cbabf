package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"waveq/internal/config"
)

// Service defines the operator alert surface.
type Service interface {
	NotifyJobFailed(ctx context.Context, jobID, operation, reason string) error
	NotifyWorkflowCompleted(ctx context.Context, workflowID, intent string, steps int, duration time.Duration) error
	NotifyWorkflowFailed(ctx context.Context, workflowID, intent, operation, reason string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		jobFailures: cfg.Notifications.JobFailures,
		workflows:   cfg.Notifications.Workflows,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	jobFailures bool
	workflows   bool
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, operation, reason string) error {
	if !n.jobFailures {
		return nil
	}
	message := fmt.Sprintf("%s job %s failed", strings.TrimSpace(operation), strings.TrimSpace(jobID))
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	return n.send(ctx, payload{
		title:    "WaveQ - Job Failed",
		message:  message,
		tags:     []string{"waveq", "job", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyWorkflowCompleted(ctx context.Context, workflowID, intent string, steps int, duration time.Duration) error {
	if !n.workflows {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	return n.send(ctx, payload{
		title:   "WaveQ - Workflow Complete",
		message: fmt.Sprintf("%s workflow %s finished %d steps in %s", strings.TrimSpace(intent), workflowID, steps, duration),
		tags:    []string{"waveq", "workflow", "completed"},
	})
}

func (n *ntfyService) NotifyWorkflowFailed(ctx context.Context, workflowID, intent, operation, reason string) error {
	if !n.workflows {
		return nil
	}
	message := fmt.Sprintf("%s workflow %s stopped at %s", strings.TrimSpace(intent), workflowID, strings.TrimSpace(operation))
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	return n.send(ctx, payload{
		title:    "WaveQ - Workflow Failed",
		message:  message,
		tags:     []string{"waveq", "workflow", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "WaveQ - Error",
		message:  builder.String(),
		tags:     []string{"waveq", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "WaveQ - Test",
		message:  "Notification system test",
		tags:     []string{"waveq", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyWorkflowCompleted(context.Context, string, string, int, time.Duration) error {
	return nil
}
func (noopService) NotifyWorkflowFailed(context.Context, string, string, string, string) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }
