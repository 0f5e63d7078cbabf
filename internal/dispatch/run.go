package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"waveq/internal/logging"
	"waveq/internal/notifications"
	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/services"
)

type outcome struct {
	result processing.Result
	err    error
}

// Start launches the worker pool. Pending jobs already in the store are
// enqueued, and processing jobs left behind by a previous run are failed.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(d.workers)
	d.mu.Unlock()

	d.reclaim(runCtx)

	for i := 0; i < d.workers; i++ {
		go d.runWorker(runCtx, i)
	}
	d.logger.Info("dispatcher started",
		logging.Int("workers", d.workers),
		logging.Duration("soft_timeout", d.soft),
		logging.Duration("hard_timeout", d.hard),
	)
	return nil
}

// Stop terminates the worker pool and waits for workers to exit. Jobs that
// were processing are marked cancelled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) reclaim(ctx context.Context) {
	stale, err := d.store.List(ctx, queue.Filter{Statuses: []queue.Status{queue.StatusProcessing}})
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to list stale processing jobs", "reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check task store access"),
		)
	}
	for _, job := range stale {
		interrupted := services.Wrap(services.ErrProcessing, "dispatcher", "reclaim", "interrupted by restart", nil)
		if _, err := d.store.Update(ctx, job.ID, func(j *queue.Job) error {
			return j.MarkFailed(queue.NewJobError(interrupted), d.now().UTC())
		}); err == nil {
			d.release(job.ID)
			d.logger.Info("reclaimed interrupted job",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldEventType, "job_reclaimed"),
			)
		}
	}

	pending, err := d.store.List(ctx, queue.Filter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to list pending jobs", "reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check task store access"),
		)
		return
	}
	d.mu.Lock()
	queued := make(map[string]struct{}, len(d.pending))
	for _, id := range d.pending {
		queued[id] = struct{}{}
	}
	for _, job := range pending {
		if _, ok := queued[job.ID]; !ok {
			d.pending = append(d.pending, job.ID)
		}
	}
	hasWork := len(d.pending) > 0
	d.mu.Unlock()
	if hasWork {
		d.signal()
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, n int) {
	defer d.wg.Done()
	logger := d.logger.With(logging.Int("worker", n))
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := d.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			}
			continue
		}
		d.process(ctx, logger, id)
	}
}

// process claims and runs one job. A failed claim means the job was
// cancelled or purged after it was queued.
func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, id string) {
	job, err := d.store.Update(ctx, id, func(j *queue.Job) error {
		return j.MarkProcessing(d.now().UTC())
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrNotFound):
			logger.Debug("skipping job that is no longer pending",
				logging.String(logging.FieldJobID, id),
				logging.Error(err),
			)
		case ctx.Err() != nil:
			logger.Debug("dispatcher stopping, job left pending", logging.String(logging.FieldJobID, id))
		default:
			logging.ErrorWithContext(logger, "failed to claim job", "job_claim_failed",
				logging.String(logging.FieldJobID, id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check task store access"),
			)
		}
		return
	}

	d.mu.Lock()
	d.active++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	jobCtx := services.WithOperation(services.WithJobID(ctx, job.ID), string(job.Operation))
	if job.WorkflowID != "" {
		jobCtx = services.WithWorkflowID(jobCtx, job.WorkflowID)
	}
	logger = logging.WithContext(jobCtx, logger)
	logger.Info("job started", logging.String(logging.FieldEventType, "job_started"))

	handler, err := d.handlers.Lookup(job.Operation)
	if err != nil {
		d.finish(jobCtx, logger, job, nil, err)
		return
	}

	softCtx, cancel := context.WithTimeout(jobCtx, d.soft)
	defer cancel()
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("processing function panicked",
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
				results <- outcome{err: services.Wrap(services.ErrProcessing, "dispatcher", string(job.Operation), fmt.Sprintf("panic: %v", r), nil)}
			}
		}()
		result, err := handler(softCtx, processing.Input{
			JobID:     job.ID,
			Operation: job.Operation,
			InputRef:  job.InputRef,
			OutputDir: d.jobOutputDir(job.ID),
			Config:    queue.CloneMap(job.Config),
		})
		results <- outcome{result: result, err: err}
	}()

	hard := time.NewTimer(d.hard)
	defer hard.Stop()

	select {
	case out := <-results:
		if out.err != nil && ctx.Err() != nil {
			d.abandon(jobCtx, logger, job)
			return
		}
		d.finish(jobCtx, logger, job, out.result, classify(out.err))
	case <-hard.C:
		d.finish(jobCtx, logger, job, nil, services.Wrap(services.ErrTimeout, "dispatcher", string(job.Operation),
			fmt.Sprintf("exceeded hard deadline of %s", d.hard), nil))
	case <-ctx.Done():
		d.abandon(jobCtx, logger, job)
	}
}

// jobOutputDir is the per-job artifact directory, or "" when no output root
// is configured.
func (d *Dispatcher) jobOutputDir(id string) string {
	if d.outputDir == "" {
		return ""
	}
	return filepath.Join(d.outputDir, id)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		return services.Wrap(services.ErrTimeout, "dispatcher", "", "soft deadline reached", err)
	}
	return err
}

// finish commits the terminal transition. Only the caller that wins the
// transition notifies, so the webhook fires at most once per job.
func (d *Dispatcher) finish(ctx context.Context, logger *slog.Logger, job *queue.Job, result processing.Result, runErr error) {
	ctx = context.WithoutCancel(ctx)
	updated, err := d.store.Update(ctx, job.ID, func(j *queue.Job) error {
		if runErr != nil {
			return j.MarkFailed(queue.NewJobError(runErr), d.now().UTC())
		}
		if result == nil {
			result = processing.Result{}
		}
		return j.MarkCompleted(result, d.now().UTC())
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidState) {
			logger.Info("discarding late result for job that already finished",
				logging.String(logging.FieldEventType, "job_result_discarded"),
			)
			return
		}
		logging.ErrorWithContext(logger, "failed to record job outcome", "job_update_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check task store access"),
		)
		return
	}
	d.release(job.ID)

	if updated.Status == queue.StatusFailed {
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.String("error_kind", updated.Error.Kind),
			logging.String("error_message", updated.Error.Message),
			logging.String(logging.FieldImpact, "job result unavailable"),
			logging.String(logging.FieldErrorHint, "inspect the job error and processing command output"),
		)
		if err := d.alerts.NotifyJobFailed(ctx, updated.ID, string(updated.Operation), updated.Error.Message); err != nil {
			logger.Debug("job failure alert not sent", logging.Error(err))
		}
	} else {
		logger.Info("job completed",
			logging.String(logging.FieldEventType, "job_completed"),
			logging.Duration("elapsed", elapsed(updated)),
		)
	}

	if updated.CallbackURL != "" {
		d.webhook.Notify(ctx, updated.CallbackURL, Payload(updated))
	}
}

// abandon handles a job whose worker is shutting down.
func (d *Dispatcher) abandon(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	ctx = context.WithoutCancel(ctx)
	if _, err := d.store.Update(ctx, job.ID, func(j *queue.Job) error {
		return j.MarkCancelled("dispatcher stopped", d.now().UTC())
	}); err != nil {
		logger.Debug("job finished before shutdown", logging.Error(err))
		return
	}
	d.release(job.ID)
	logger.Info("job cancelled by shutdown", logging.String(logging.FieldEventType, "job_cancelled"))
}

// Payload builds the webhook body for a terminal job.
func Payload(job *queue.Job) notifications.WebhookPayload {
	payload := notifications.WebhookPayload{TaskID: job.ID, Status: string(job.Status)}
	switch job.Status {
	case queue.StatusCompleted:
		payload.Result = queue.CloneMap(job.Output)
	default:
		if job.Error != nil {
			payload.Error = job.Error.Message
		}
	}
	return payload
}

func elapsed(job *queue.Job) time.Duration {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt)
}
