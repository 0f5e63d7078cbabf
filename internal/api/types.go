package api

import (
	"waveq/internal/dispatch"
	"waveq/internal/orchestrator"
	"waveq/internal/queue"
)

// SubmitJobRequest is the body of POST /api/v1/jobs.
type SubmitJobRequest struct {
	Operation   string         `json:"operation"`
	InputRef    string         `json:"input_ref"`
	Config      map[string]any `json:"config,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// SubmitJobResponse acknowledges an accepted job.
type SubmitJobResponse struct {
	TaskID string       `json:"task_id"`
	Status queue.Status `json:"status"`
}

// CancelJobResponse acknowledges a cancellation.
type CancelJobResponse struct {
	TaskID  string       `json:"task_id"`
	Status  queue.Status `json:"status"`
	Message string       `json:"message"`
}

// JobListResponse wraps GET /api/v1/jobs.
type JobListResponse struct {
	Jobs []*queue.Job `json:"jobs"`
}

// WorkflowListResponse wraps GET /api/v1/workflows.
type WorkflowListResponse struct {
	Workflows []*orchestrator.Result `json:"workflows"`
}

// DirUsage summarizes an artifact directory.
type DirUsage struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// StatusResponse reports daemon state.
type StatusResponse struct {
	Version          string         `json:"version"`
	Dispatcher       dispatch.Stats `json:"dispatcher"`
	Workflows        int            `json:"workflows"`
	ParallelDispatch bool           `json:"parallel_dispatch"`
	Storage          []DirUsage     `json:"storage"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
