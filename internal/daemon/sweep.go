package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"waveq/internal/cleanup"
	"waveq/internal/logging"
)

// SweepResult summarizes one housekeeping pass.
type SweepResult struct {
	JobsPurged      int
	WorkflowsPruned int
	FilesRemoved    int
	LogsRemoved     int
	Errors          []error
}

// Sweep purges terminal jobs and finished workflows older than the job
// retention window, removes upload and output artifacts older than the file
// age limit, and prunes rotated logs.
func (d *Daemon) Sweep(ctx context.Context) SweepResult {
	now := d.now()
	result := SweepResult{}

	cutoff := now.Add(-d.cfg.JobRetention())
	purged, err := d.store.PurgeFinished(ctx, cutoff)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("purge jobs: %w", err))
	}
	result.JobsPurged = purged
	result.WorkflowsPruned = d.workflows.Prune(cutoff)

	files := cleanup.Result{}
	for _, dir := range []string{d.cfg.Paths.UploadDir, d.cfg.Paths.OutputDir} {
		files.Merge(cleanup.RemoveStale(ctx, dir, d.cfg.FileMaxAge(), now, d.logger))
	}
	result.FilesRemoved = len(files.Removed)
	for _, e := range files.Errors {
		result.Errors = append(result.Errors, fmt.Errorf("remove %s: %w", e.Path, e.Err))
	}

	result.LogsRemoved = logging.CleanupOldLogs(d.logger, d.cfg.Paths.LogDir, "*.log*", d.cfg.Logging.RetentionDays)

	attrs := []logging.Attr{
		logging.Int("jobs_purged", result.JobsPurged),
		logging.Int("workflows_pruned", result.WorkflowsPruned),
		logging.Int("files_removed", result.FilesRemoved),
		logging.Int("logs_removed", result.LogsRemoved),
		logging.String(logging.FieldEventType, "sweep_completed"),
	}
	if len(result.Errors) > 0 {
		joined := errors.Join(result.Errors...)
		logging.WarnWithContext(d.logger, "sweep finished with errors", "sweep_failed",
			append(attrs,
				logging.Error(joined),
				logging.String(logging.FieldImpact, "expired data not fully reclaimed"),
				logging.String(logging.FieldErrorHint, "check store access and directory permissions"),
			)...,
		)
		if err := d.alerts.NotifyError(ctx, joined, "cleanup sweep"); err != nil {
			d.logger.Debug("sweep alert not sent", logging.Error(err))
		}
		return result
	}
	d.logger.Info("sweep completed", logging.Args(attrs...)...)
	return result
}

func (d *Daemon) newScheduler(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{logger: d.logger}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := scheduler.AddFunc(d.cfg.Cleanup.Schedule, func() { d.Sweep(ctx) }); err != nil {
		return nil, fmt.Errorf("parse cleanup.schedule %q: %w", d.cfg.Cleanup.Schedule, err)
	}
	d.logger.Info("cleanup scheduled", logging.String("schedule", d.cfg.Cleanup.Schedule))
	return scheduler, nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	l.logger.Warn("cron: "+msg, args...)
}
