package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"waveq/internal/orchestrator"
	"waveq/internal/queue"
	"waveq/internal/services"
)

const defaultClientTimeout = 30 * time.Second

// Error is a non-2xx response decoded from the API.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.StatusCode)
}

// Unwrap lets errors.Is match services markers on the client side.
func (e *Error) Unwrap() error {
	marker := services.MarkerForKind(e.Kind)
	if services.KindOf(marker) != e.Kind {
		return nil
	}
	return marker
}

// Client talks to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon at bind ("host:port" or a URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: defaultClientTimeout},
	}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Status calls GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
	return out, err
}

// SubmitJob calls POST /api/v1/jobs.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (SubmitJobResponse, error) {
	var out SubmitJobResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &out)
	return out, err
}

// GetJob calls GET /api/v1/jobs/:id.
func (c *Client) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	var out queue.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs calls GET /api/v1/jobs.
func (c *Client) ListJobs(ctx context.Context, statuses []string, workflowID string, limit int) ([]*queue.Job, error) {
	query := url.Values{}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	if workflowID != "" {
		query.Set("workflow_id", workflowID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// CancelJob calls DELETE /api/v1/jobs/:id.
func (c *Client) CancelJob(ctx context.Context, id string) (CancelJobResponse, error) {
	var out CancelJobResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

// StartWorkflow calls POST /api/v1/workflows.
func (c *Client) StartWorkflow(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	var out orchestrator.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlanWorkflow calls POST /api/v1/workflows/plan.
func (c *Client) PlanWorkflow(ctx context.Context, req orchestrator.Request) (*orchestrator.Plan, error) {
	var out orchestrator.Plan
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows/plan", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWorkflow calls GET /api/v1/workflows/:id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*orchestrator.Result, error) {
	var out orchestrator.Result
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkflows calls GET /api/v1/workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]*orchestrator.Result, error) {
	var out WorkflowListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var decoded ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&decoded); err == nil {
			apiErr.Kind = decoded.Kind
			apiErr.Message = decoded.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
