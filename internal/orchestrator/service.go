package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"waveq/internal/logging"
	"waveq/internal/queue"
	"waveq/internal/services"
)

// Request describes a workflow to plan or run.
type Request struct {
	InputRef       string                    `json:"input_ref"`
	Intent         string                    `json:"intent,omitempty"`
	Operations     []string                  `json:"operations,omitempty"`
	Customizations map[string]map[string]any `json:"customizations,omitempty"`
	Hints          *UserHints                `json:"hints,omitempty"`
	// Duration in seconds overrides probing, for inputs that are not local files.
	Duration    float64 `json:"duration,omitempty"`
	CallbackURL string  `json:"callback_url,omitempty"`
}

// Plan is a workflow preview.
type Plan struct {
	Intent           Intent        `json:"intent"`
	Steps            []Step        `json:"steps"`
	Metadata         AudioMetadata `json:"metadata"`
	EstimatedSeconds float64       `json:"estimated_seconds"`
	ParallelDispatch bool          `json:"parallel_dispatch"`
}

// Prober reads metadata from a local input.
type Prober interface {
	Probe(ctx context.Context, path string) (AudioMetadata, error)
}

// Service plans workflows and tracks their asynchronous execution.
type Service struct {
	planner  *Planner
	executor *Executor
	prober   Prober
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	runs   map[string]*Result
	closed bool
}

// NewService builds a service. prober may be nil, in which case only
// Request.Duration informs classification.
func NewService(planner *Planner, executor *Executor, prober Prober, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		planner:  planner,
		executor: executor,
		prober:   prober,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		ctx:      ctx,
		cancel:   cancel,
		runs:     make(map[string]*Result),
	}
}

// Plan classifies and plans req without running it.
func (s *Service) Plan(ctx context.Context, req Request) (*Plan, error) {
	if strings.TrimSpace(req.InputRef) == "" {
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "plan", "input_ref is required", nil)
	}
	custom, err := ParseCustomizations(req.Customizations)
	if err != nil {
		return nil, err
	}
	meta := s.metadata(ctx, req)

	var (
		intent Intent
		steps  []Step
	)
	switch {
	case len(req.Operations) > 0:
		intent = IntentCustom
		ops := make([]queue.Operation, 0, len(req.Operations))
		for _, name := range req.Operations {
			ops = append(ops, queue.Operation(name))
		}
		steps, err = s.planner.PlanOperations(ops, custom)
	case strings.TrimSpace(req.Intent) != "":
		intent, err = ParseIntent(req.Intent)
		if err == nil {
			steps, err = s.planner.Plan(intent, custom)
		}
	default:
		intent = Classify(meta, req.Hints)
		steps, err = s.planner.Plan(intent, custom)
	}
	if err != nil {
		return nil, err
	}
	steps = Optimize(steps)
	parallel := s.executor.Parallel()
	return &Plan{
		Intent:           intent,
		Steps:            steps,
		Metadata:         meta,
		EstimatedSeconds: Estimate(steps, meta.SizeBytes, parallel).Seconds(),
		ParallelDispatch: parallel,
	}, nil
}

func (s *Service) metadata(ctx context.Context, req Request) AudioMetadata {
	var meta AudioMetadata
	if s.prober != nil {
		if info, err := os.Stat(req.InputRef); err == nil && info.Mode().IsRegular() {
			probed, err := s.prober.Probe(ctx, req.InputRef)
			if err != nil {
				logging.WarnWithContext(s.logger, "audio probe failed", "audio_probe_failed",
					logging.String("input_ref", req.InputRef),
					logging.Error(err),
					logging.String(logging.FieldImpact, "classification uses hints only"),
					logging.String(logging.FieldErrorHint, "install ffprobe or set processing.ffprobe_binary"),
				)
			}
			meta = probed
		}
	}
	if req.Duration > 0 {
		meta.Duration = req.Duration
	}
	return meta
}

// Start plans req and executes it in the background. The returned snapshot
// is in the running state.
func (s *Service) Start(ctx context.Context, req Request) (*Result, error) {
	plan, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	id := NewWorkflowID()
	initial := &Result{
		WorkflowID:     id,
		Intent:         plan.Intent,
		Status:         StatusRunning,
		InputRef:       req.InputRef,
		Steps:          CloneSteps(plan.Steps),
		StepsCompleted: []queue.Operation{},
		Outputs:        map[queue.Operation]map[string]any{},
		TaskIDs:        []string{},
		Errors:         []StepError{},
		StartedAt:      time.Now().UTC(),
	}
	// The closed check and wg.Add share the lock with Close so no run can
	// start once Close has begun waiting.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, services.Wrap(services.ErrInvalidState, "orchestrator", "start", "service is shutting down", nil)
	}
	s.runs[id] = initial
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.executor.run(s.ctx, id, plan.Intent, plan.Steps, req.InputRef, req.CallbackURL, s.store)
	}()
	return initial.Clone(), nil
}

func (s *Service) store(result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[result.WorkflowID] = result
}

// Get returns the latest snapshot of a workflow.
func (s *Service) Get(id string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.runs[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "get", fmt.Sprintf("workflow %s not found", id), nil)
	}
	return result.Clone(), nil
}

// List returns every tracked workflow, newest first.
func (s *Service) List() []*Result {
	s.mu.RLock()
	out := make([]*Result, 0, len(s.runs))
	for _, result := range s.runs {
		out = append(out, result.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].WorkflowID > out[j].WorkflowID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Prune forgets finished workflows that completed before cutoff.
func (s *Service) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, result := range s.runs {
		if result.CompletedAt != nil && result.CompletedAt.Before(before) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// Close interrupts running workflows and waits for them to record their outcome.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
