package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"waveq/internal/api"
	"waveq/internal/audio"
	"waveq/internal/config"
	"waveq/internal/dispatch"
	"waveq/internal/logging"
	"waveq/internal/notifications"
	"waveq/internal/orchestrator"
	"waveq/internal/preflight"
	"waveq/internal/processing"
	"waveq/internal/queue"
)

// Daemon owns every long-lived component of a waveq server.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string
	now     func() time.Time

	store       queue.Store
	handlers    processing.Set
	hasHandlers bool
	alerts      notifications.Service
	dispatcher  *dispatch.Dispatcher
	workflows   *orchestrator.Service
	api         *api.Server
	scheduler   *cron.Cron

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
}

// Option customizes daemon construction.
type Option func(*Daemon)

// WithStore injects a task store instead of opening the configured one.
func WithStore(store queue.Store) Option {
	return func(d *Daemon) { d.store = store }
}

// WithHandlers replaces the command-backed processing handlers.
func WithHandlers(set processing.Set) Option {
	return func(d *Daemon) {
		d.handlers = set
		d.hasHandlers = true
	}
}

// WithClock overrides the time source used by the sweep.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		version:  version,
		now:      time.Now,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.store == nil {
		store, err := queue.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open task store: %w", err)
		}
		d.store = store
	}
	if !d.hasHandlers {
		d.handlers = processing.NewCommandSet(cfg, logger)
	}

	webhook := notifications.NewWebhook(cfg.WebhookTimeout(), logger)
	d.alerts = notifications.NewService(cfg)
	d.dispatcher = dispatch.New(cfg, d.store, d.handlers, logger,
		dispatch.WithNotifier(webhook),
		dispatch.WithAlerts(d.alerts),
	)
	executor := orchestrator.NewExecutor(d.dispatcher, logger,
		orchestrator.WithParallelDispatch(cfg.Workflow.ParallelDispatch),
		orchestrator.WithWorkflowNotifier(webhook),
		orchestrator.WithWorkflowAlerts(d.alerts),
	)
	d.workflows = orchestrator.NewService(orchestrator.NewPlanner(), executor,
		audio.NewProber(cfg.Processing.FFprobeBinary), logger)
	d.api = api.New(cfg, d.dispatcher, d.workflows, version, logger)
	return d, nil
}

// Start acquires the instance lock and launches the dispatcher, the API,
// and the cleanup scheduler. A stopped daemon cannot be started again.
func (d *Daemon) Start(ctx context.Context) error {
	if d.stopped.Load() {
		return errors.New("daemon already stopped")
	}
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another waveq daemon is already running (lock %s)", d.lockPath)
	}

	d.logPreflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.dispatcher.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := d.api.Start(runCtx); err != nil {
		cancel()
		d.dispatcher.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	if d.cfg.Cleanup.Enabled {
		scheduler, err := d.newScheduler(runCtx)
		if err != nil {
			cancel()
			d.api.Stop()
			d.dispatcher.Stop()
			_ = d.lock.Unlock()
			return fmt.Errorf("start cleanup scheduler: %w", err)
		}
		d.scheduler = scheduler
		d.scheduler.Start()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("waveq daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
		logging.String("store", d.cfg.Store.Backend),
		logging.String("version", d.version),
	)
	return nil
}

// Stop shuts components down in dependency order and releases the lock.
// Running workflows are interrupted before the dispatcher stops so their
// outstanding jobs are cancelled cleanly.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
		d.scheduler = nil
	}
	d.api.Stop()
	d.workflows.Close()
	d.dispatcher.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.stopped.Store(true)
	d.logger.Info("waveq daemon stopped")
}

// Close stops the daemon and releases the task store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// APIAddr returns the bound API address while running.
func (d *Daemon) APIAddr() string { return d.api.Addr() }

// Dispatcher exposes the job dispatcher.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher { return d.dispatcher }

// Workflows exposes the workflow service.
func (d *Daemon) Workflows() *orchestrator.Service { return d.workflows }

func (d *Daemon) logPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	for _, r := range results {
		switch {
		case r.Passed:
			d.logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		case r.Optional:
			d.logger.Info("optional preflight check failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		default:
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldImpact, "jobs depending on this check will fail"),
				logging.String(logging.FieldErrorHint, "run `waveq preflight` for details"),
			)
		}
	}
}
