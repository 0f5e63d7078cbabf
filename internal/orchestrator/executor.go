package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"waveq/internal/dispatch"
	"waveq/internal/logging"
	"waveq/internal/notifications"
	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/services"
)

const workflowIDPrefix = "workflow_"

// Status is the derived state of a workflow.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Dispatcher is the job surface the executor drives.
type Dispatcher interface {
	Submit(ctx context.Context, req dispatch.SubmitRequest) (*queue.Job, error)
	Wait(ctx context.Context, id string) (*queue.Job, error)
	Cancel(ctx context.Context, id string) (*queue.Job, error)
}

// StepError records why a step did not complete.
type StepError struct {
	Operation queue.Operation `json:"operation"`
	TaskID    string          `json:"task_id,omitempty"`
	Kind      string          `json:"kind"`
	Message   string          `json:"message"`
}

// Result is the aggregated outcome of a workflow.
type Result struct {
	WorkflowID     string                             `json:"workflow_id"`
	Intent         Intent                             `json:"intent,omitempty"`
	Status         Status                             `json:"status"`
	InputRef       string                             `json:"input_ref"`
	Steps          []Step                             `json:"steps"`
	StepsCompleted []queue.Operation                  `json:"steps_completed"`
	Outputs        map[queue.Operation]map[string]any `json:"outputs"`
	TaskIDs        []string                           `json:"task_ids"`
	Errors         []StepError                        `json:"errors"`
	StartedAt      time.Time                          `json:"started_at"`
	CompletedAt    *time.Time                         `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Steps = CloneSteps(r.Steps)
	cp.StepsCompleted = append([]queue.Operation(nil), r.StepsCompleted...)
	cp.TaskIDs = append([]string(nil), r.TaskIDs...)
	cp.Errors = append([]StepError(nil), r.Errors...)
	cp.Outputs = make(map[queue.Operation]map[string]any, len(r.Outputs))
	for op, out := range r.Outputs {
		cp.Outputs[op] = queue.CloneMap(out)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// deriveStatus reports Completed iff every step completed, Failed iff any
// step recorded an error, else Running.
func (r *Result) deriveStatus() Status {
	switch {
	case len(r.Errors) > 0:
		return StatusFailed
	case len(r.StepsCompleted) == len(r.Steps):
		return StatusCompleted
	default:
		return StatusRunning
	}
}

// Executor runs planned steps through a dispatcher.
type Executor struct {
	dispatcher Dispatcher
	webhook    notifications.Notifier
	alerts     notifications.Service
	logger     *slog.Logger
	parallel   bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithParallelDispatch submits steps linked by ParallelWithNext together.
func WithParallelDispatch(enabled bool) ExecutorOption {
	return func(e *Executor) { e.parallel = enabled }
}

// WithWorkflowNotifier sets the webhook used for workflow callbacks.
func WithWorkflowNotifier(n notifications.Notifier) ExecutorOption {
	return func(e *Executor) {
		if n != nil {
			e.webhook = n
		}
	}
}

// WithWorkflowAlerts sets the operator alert service.
func WithWorkflowAlerts(s notifications.Service) ExecutorOption {
	return func(e *Executor) {
		if s != nil {
			e.alerts = s
		}
	}
}

// NewExecutor builds an executor over d.
func NewExecutor(d Dispatcher, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		dispatcher: d,
		webhook:    notifications.NopNotifier{},
		alerts:     notifications.NewService(nil),
		logger:     logging.NewComponentLogger(logger, "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parallel reports whether flagged steps are dispatched together.
func (e *Executor) Parallel() bool { return e.parallel }

// Execute runs steps against inputRef and blocks until the workflow halts.
func (e *Executor) Execute(ctx context.Context, steps []Step, inputRef, callbackURL string) *Result {
	return e.run(ctx, NewWorkflowID(), "", steps, inputRef, callbackURL, nil)
}

// NewWorkflowID returns a fresh "workflow_" id.
func NewWorkflowID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return workflowIDPrefix + raw[:16]
}

// run executes the workflow, reporting each intermediate state to observe.
func (e *Executor) run(ctx context.Context, workflowID string, intent Intent, steps []Step, inputRef, callbackURL string, observe func(*Result)) *Result {
	ctx = services.WithWorkflowID(ctx, workflowID)
	logger := logging.WithContext(ctx, e.logger)
	result := &Result{
		WorkflowID:     workflowID,
		Intent:         intent,
		Status:         StatusRunning,
		InputRef:       inputRef,
		Steps:          CloneSteps(steps),
		StepsCompleted: []queue.Operation{},
		Outputs:        map[queue.Operation]map[string]any{},
		TaskIDs:        []string{},
		Errors:         []StepError{},
		StartedAt:      time.Now().UTC(),
	}
	publish := func() {
		if observe != nil {
			observe(result.Clone())
		}
	}
	publish()
	logger.Info("workflow started",
		logging.Int("steps", len(steps)),
		logging.Bool("parallel_dispatch", e.parallel),
		logging.String(logging.FieldEventType, "workflow_started"),
	)

	current := inputRef
	for _, group := range Groups(result.Steps, e.parallel) {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, StepError{
				Operation: group[0].Operation,
				Kind:      services.KindCancelled,
				Message:   services.Wrap(services.ErrCancelled, "executor", string(group[0].Operation), "workflow interrupted", err).Error(),
			})
			break
		}
		jobs, halted := e.submitGroup(ctx, group, current, workflowID, result)
		if !halted {
			current = e.awaitGroup(ctx, group, jobs, current, result)
		}
		publish()
		if len(result.Errors) > 0 {
			break
		}
	}

	result.Status = result.deriveStatus()
	now := time.Now().UTC()
	result.CompletedAt = &now
	publish()
	e.report(ctx, logger, result, callbackURL)
	return result
}

// submitGroup submits every step of a group with the same input. A
// submission failure records an error, cancels the group's earlier jobs, and
// halts the workflow.
func (e *Executor) submitGroup(ctx context.Context, group []Step, input, workflowID string, result *Result) ([]*queue.Job, bool) {
	jobs := make([]*queue.Job, 0, len(group))
	for _, step := range group {
		job, err := e.dispatcher.Submit(ctx, dispatch.SubmitRequest{
			Operation:  step.Operation,
			InputRef:   input,
			Config:     queue.CloneMap(step.Config),
			WorkflowID: workflowID,
		})
		if err != nil {
			result.Errors = append(result.Errors, StepError{
				Operation: step.Operation,
				Kind:      services.KindOf(err),
				Message:   err.Error(),
			})
			for _, submitted := range jobs {
				_, _ = e.dispatcher.Cancel(context.WithoutCancel(ctx), submitted.ID)
			}
			return nil, true
		}
		result.TaskIDs = append(result.TaskIDs, job.ID)
		jobs = append(jobs, job)
	}
	return jobs, false
}

// awaitGroup waits for every job in the group and returns the input for the
// next group.
func (e *Executor) awaitGroup(ctx context.Context, group []Step, jobs []*queue.Job, input string, result *Result) string {
	next := input
	for i, submitted := range jobs {
		step := group[i]
		job, err := e.dispatcher.Wait(ctx, submitted.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_, _ = e.dispatcher.Cancel(context.WithoutCancel(ctx), submitted.ID)
				err = services.Wrap(services.ErrCancelled, "executor", string(step.Operation), "workflow interrupted", err)
			}
			result.Errors = append(result.Errors, StepError{
				Operation: step.Operation,
				TaskID:    submitted.ID,
				Kind:      services.KindOf(err),
				Message:   err.Error(),
			})
			continue
		}
		switch job.Status {
		case queue.StatusCompleted:
			result.StepsCompleted = append(result.StepsCompleted, step.Operation)
			result.Outputs[step.Operation] = queue.CloneMap(job.Output)
			if ref, ok := processing.Result(job.Output).OutputRef(); ok {
				next = ref
			}
		default:
			stepErr := StepError{Operation: step.Operation, TaskID: job.ID, Kind: services.KindProcessing, Message: "job " + string(job.Status)}
			if job.Error != nil {
				stepErr.Kind = job.Error.Kind
				stepErr.Message = job.Error.Message
			}
			result.Errors = append(result.Errors, stepErr)
		}
	}
	return next
}

func (e *Executor) report(ctx context.Context, logger *slog.Logger, result *Result, callbackURL string) {
	ctx = context.WithoutCancel(ctx)
	elapsed := result.CompletedAt.Sub(result.StartedAt)
	payload := notifications.WebhookPayload{TaskID: result.WorkflowID, Status: string(result.Status)}

	if result.Status == StatusCompleted {
		logger.Info("workflow completed",
			logging.Int("steps_completed", len(result.StepsCompleted)),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "workflow_completed"),
		)
		payload.Result = summary(result)
		if err := e.alerts.NotifyWorkflowCompleted(ctx, result.WorkflowID, label(result), len(result.StepsCompleted), elapsed); err != nil {
			logger.Debug("workflow completion alert not sent", logging.Error(err))
		}
	} else if len(result.Errors) > 0 {
		first := result.Errors[0]
		logging.WarnWithContext(logger, "workflow failed", "workflow_failed",
			logging.String(logging.FieldOperation, string(first.Operation)),
			logging.String("error_kind", first.Kind),
			logging.String("error_message", first.Message),
			logging.Int("steps_completed", len(result.StepsCompleted)),
			logging.String(logging.FieldImpact, "remaining steps were not run"),
			logging.String(logging.FieldErrorHint, "inspect the failed step's job error"),
		)
		payload.Error = first.Message
		if err := e.alerts.NotifyWorkflowFailed(ctx, result.WorkflowID, label(result), string(first.Operation), first.Message); err != nil {
			logger.Debug("workflow failure alert not sent", logging.Error(err))
		}
	}

	if strings.TrimSpace(callbackURL) != "" {
		e.webhook.Notify(ctx, callbackURL, payload)
	}
}

func summary(result *Result) map[string]any {
	completed := make([]any, 0, len(result.StepsCompleted))
	for _, op := range result.StepsCompleted {
		completed = append(completed, string(op))
	}
	outputs := make(map[string]any, len(result.Outputs))
	for op, out := range result.Outputs {
		outputs[string(op)] = queue.CloneMap(out)
	}
	return map[string]any{
		"steps_completed": completed,
		"outputs":         outputs,
	}
}

// label names the workflow in alerts, falling back to its operation chain.
func label(result *Result) string {
	if result.Intent != "" {
		return string(result.Intent)
	}
	ops := make([]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		ops = append(ops, string(step.Operation))
	}
	return strings.Join(ops, "+")
}
