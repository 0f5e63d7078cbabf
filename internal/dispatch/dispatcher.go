package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"waveq/internal/config"
	"waveq/internal/logging"
	"waveq/internal/notifications"
	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/services"
)

const (
	jobIDPrefix   = "task_"
	maxIDAttempts = 5
)

// SubmitRequest describes a job to enqueue.
type SubmitRequest struct {
	Operation   queue.Operation
	InputRef    string
	Config      map[string]any
	CallbackURL string
	WorkflowID  string
}

// Stats summarizes dispatcher state for health reporting.
type Stats struct {
	Workers int                  `json:"workers"`
	Running bool                 `json:"running"`
	Queued  int                  `json:"queued"`
	Active  int                  `json:"active"`
	Counts  map[queue.Status]int `json:"counts"`
}

// Dispatcher owns the worker pool and the pending FIFO.
type Dispatcher struct {
	store     queue.Store
	handlers  processing.Set
	webhook   notifications.Notifier
	alerts    notifications.Service
	logger    *slog.Logger
	outputDir string
	workers   int
	soft      time.Duration
	hard      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []string
	wake    chan struct{}
	waiters map[string]chan struct{}
	active  int
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithNotifier replaces the webhook notifier.
func WithNotifier(n notifications.Notifier) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.webhook = n
		}
	}
}

// WithAlerts replaces the operator alert service.
func WithAlerts(s notifications.Service) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.alerts = s
		}
	}
}

// WithWorkers overrides the pool size.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDeadlines overrides the soft and hard per-job deadlines.
func WithDeadlines(soft, hard time.Duration) Option {
	return func(d *Dispatcher) {
		if hard > 0 {
			d.hard = hard
		}
		if soft > 0 {
			d.soft = soft
		}
		if d.soft > d.hard {
			d.soft = d.hard
		}
	}
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a dispatcher. Workers do not run until Start is called;
// jobs submitted earlier wait in the FIFO.
func New(cfg *config.Config, store queue.Store, handlers processing.Set, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		handlers:  handlers,
		logger:    logging.NewComponentLogger(logger, "dispatcher"),
		outputDir: cfg.Paths.OutputDir,
		workers:   cfg.Jobs.MaxConcurrentJobs,
		soft:      cfg.SoftTimeout(),
		hard:      cfg.JobTimeout(),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		waiters:   make(map[string]chan struct{}),
	}
	d.webhook = notifications.NewWebhook(cfg.WebhookTimeout(), logger)
	d.alerts = notifications.NewService(cfg)
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	return d
}

// Submit validates req, stores a pending job, and enqueues it. It returns
// without waiting for the job to run.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*queue.Job, error) {
	op, err := queue.ParseOperation(string(req.Operation))
	if err != nil {
		return nil, err
	}
	inputRef := strings.TrimSpace(req.InputRef)
	if inputRef == "" && op != queue.OperationTTS {
		return nil, services.Wrap(services.ErrValidation, "dispatcher", "submit", "input_ref is required", nil)
	}
	if err := processing.ValidateConfig(op, req.Config); err != nil {
		return nil, err
	}

	var job *queue.Job
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		job = &queue.Job{
			ID:          NewJobID(),
			Operation:   op,
			Status:      queue.StatusPending,
			InputRef:    inputRef,
			Config:      queue.CloneMap(req.Config),
			CallbackURL: strings.TrimSpace(req.CallbackURL),
			WorkflowID:  req.WorkflowID,
			CreatedAt:   d.now().UTC(),
		}
		err = d.store.Create(ctx, job)
		if !errors.Is(err, services.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	d.enqueue(job.ID)
	logging.WithContext(services.WithJobID(ctx, job.ID), d.logger).Info("job submitted",
		logging.String(logging.FieldOperation, string(op)),
		logging.String(logging.FieldWorkflowID, job.WorkflowID),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return job.Clone(), nil
}

// Status returns a snapshot of the job.
func (d *Dispatcher) Status(ctx context.Context, id string) (*queue.Job, error) {
	return d.store.Get(ctx, id)
}

// List returns jobs matching filter.
func (d *Dispatcher) List(ctx context.Context, filter queue.Filter) ([]*queue.Job, error) {
	return d.store.List(ctx, filter)
}

// Cancel marks a pending or processing job cancelled. A pending job is never
// dispatched afterwards. A processing job keeps running but its result is
// discarded. Terminal jobs yield services.ErrInvalidState.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (*queue.Job, error) {
	var previous queue.Status
	job, err := d.store.Update(ctx, id, func(j *queue.Job) error {
		previous = j.Status
		return j.MarkCancelled("cancelled by request", d.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	d.release(id)
	logging.WithContext(services.WithJobID(ctx, id), d.logger).Info("job cancelled",
		logging.String("previous_status", string(previous)),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return job, nil
}

// Wait blocks until the job is terminal or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context, id string) (*queue.Job, error) {
	for {
		done := d.waiter(id)
		job, err := d.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-done:
		}
	}
}

// Stats reports pool occupancy and per-status job counts.
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	counts, err := d.store.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Workers: d.workers,
		Running: d.running,
		Queued:  len(d.pending),
		Active:  d.active,
		Counts:  counts,
	}, nil
}

// NewJobID returns a fresh "task_" id with 16 hex characters.
func NewJobID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return jobIDPrefix + raw[:16]
}

func (d *Dispatcher) enqueue(id string) {
	d.mu.Lock()
	d.pending = append(d.pending, id)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) dequeue() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return "", false
	}
	id := d.pending[0]
	d.pending[0] = ""
	d.pending = d.pending[1:]
	if len(d.pending) > 0 {
		d.signal()
	}
	return id, true
}

func (d *Dispatcher) waiter(id string) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.waiters[id]
	if !ok {
		ch = make(chan struct{})
		d.waiters[id] = ch
	}
	return ch
}

// release wakes every Wait caller blocked on id.
func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.waiters[id]; ok {
		close(ch)
		delete(d.waiters, id)
	}
}
