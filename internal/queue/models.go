package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"waveq/internal/services"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// allowedTransitions lists every legal edge of the job state machine.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "queue", "parse status", fmt.Sprintf("unknown status %q", value), nil)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Operation names a processing capability.
type Operation string

const (
	OperationDenoise    Operation = "denoise"
	OperationTranscribe Operation = "transcribe"
	OperationTrim       Operation = "trim"
	OperationSeparate   Operation = "separate"
	OperationSentiment  Operation = "sentiment"
	OperationTTS        Operation = "tts"
)

var allOperations = []Operation{
	OperationDenoise,
	OperationTranscribe,
	OperationTrim,
	OperationSeparate,
	OperationSentiment,
	OperationTTS,
}

// Operations returns the closed set of supported operations.
func Operations() []Operation {
	return append([]Operation(nil), allOperations...)
}

// ParseOperation converts a string into an Operation. Unknown names are
// validation errors.
func ParseOperation(value string) (Operation, error) {
	candidate := Operation(strings.ToLower(strings.TrimSpace(value)))
	for _, op := range allOperations {
		if op == candidate {
			return op, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "queue", "parse operation", fmt.Sprintf("unknown operation %q", value), nil)
}

// JobError is the failure recorded on a terminal job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Unwrap lets errors.Is match the services marker for the kind.
func (e *JobError) Unwrap() error { return services.MarkerForKind(e.Kind) }

// NewJobError classifies err into a JobError.
func NewJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Kind: services.KindOf(err), Message: err.Error()}
}

// Job is a single unit of work executed by one worker.
type Job struct {
	ID          string         `json:"task_id"`
	Operation   Operation      `json:"operation"`
	Status      Status         `json:"status"`
	InputRef    string         `json:"input_ref"`
	Config      map[string]any `json:"config,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *JobError      `json:"error,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// MarshalJSON always writes "output" for completed jobs, so an empty result
// still serializes as {} and every terminal job carries an output or an error.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	if j.Status != StatusCompleted {
		return json.Marshal(plain(j))
	}
	output := j.Output
	if output == nil {
		output = map[string]any{}
	}
	return json.Marshal(struct {
		plain
		Output map[string]any `json:"output"`
	}{plain: plain(j), Output: output})
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Config = CloneMap(j.Config)
	cp.Output = CloneMap(j.Output)
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// MarkProcessing claims a pending job.
func (j *Job) MarkProcessing(now time.Time) error {
	if err := j.transition(StatusProcessing); err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

// MarkCompleted records a successful result.
func (j *Job) MarkCompleted(output map[string]any, now time.Time) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.Output = CloneMap(output)
	if j.Output == nil {
		j.Output = map[string]any{}
	}
	j.Error = nil
	j.CompletedAt = &now
	return nil
}

// MarkFailed records a failure.
func (j *Job) MarkFailed(jobErr *JobError, now time.Time) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	if jobErr == nil {
		jobErr = &JobError{Kind: services.KindProcessing, Message: "job failed"}
	}
	j.Error = jobErr
	j.Output = nil
	j.CompletedAt = &now
	return nil
}

// MarkCancelled records a cancellation. Terminal jobs cannot be cancelled.
func (j *Job) MarkCancelled(reason string, now time.Time) error {
	if err := j.transition(StatusCancelled); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by request"
	}
	j.Error = &JobError{Kind: services.KindCancelled, Message: reason}
	j.Output = nil
	j.CompletedAt = &now
	return nil
}

func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return services.Wrap(services.ErrInvalidState, "queue", "transition",
			fmt.Sprintf("job %s cannot move from %s to %s", j.ID, j.Status, to), nil)
	}
	j.Status = to
	return nil
}

// CloneMap deep-copies JSON-shaped maps.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
