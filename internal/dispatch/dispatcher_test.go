package dispatch_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"waveq/internal/dispatch"
	"waveq/internal/logging"
	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/services"
	"waveq/internal/testsupport"
)

type harness struct {
	dispatcher *dispatch.Dispatcher
	store      *queue.MemoryStore
	notifier   *testsupport.RecordingNotifier
}

func newHarness(t *testing.T, set processing.Set, opts ...dispatch.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := queue.NewMemoryStore()
	notifier := &testsupport.RecordingNotifier{Accept: true}
	base := []dispatch.Option{
		dispatch.WithNotifier(notifier),
		dispatch.WithDeadlines(time.Second, 2*time.Second),
	}
	d := dispatch.New(cfg, store, set, logging.NewNop(), append(base, opts...)...)
	t.Cleanup(d.Stop)
	return &harness{dispatcher: d, store: store, notifier: notifier}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) submit(t *testing.T, op queue.Operation, callback string) *queue.Job {
	t.Helper()
	job, err := h.dispatcher.Submit(context.Background(), dispatch.SubmitRequest{
		Operation:   op,
		InputRef:    "/uploads/in.wav",
		CallbackURL: callback,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

func (h *harness) wait(t *testing.T, id string) *queue.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.dispatcher.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return job
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func succeed(_ context.Context, in processing.Input) (processing.Result, error) {
	return processing.Result{"operation": string(in.Operation), processing.OutputPathKey: "/outputs/" + in.JobID + ".wav"}, nil
}

func TestSubmitReturnsPendingJobsWithUniqueIDs(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	pattern := regexp.MustCompile(`^task_[0-9a-f]{16}$`)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		job := h.submit(t, queue.OperationDenoise, "")
		if job.Status != queue.StatusPending {
			t.Fatalf("expected pending, got %s", job.Status)
		}
		if !pattern.MatchString(job.ID) {
			t.Fatalf("unexpected id format %q", job.ID)
		}
		if seen[job.ID] {
			t.Fatalf("duplicate id %s", job.ID)
		}
		seen[job.ID] = true
	}
	stats, err := h.dispatcher.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued != 200 || stats.Running || stats.Counts[queue.StatusPending] != 200 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	tests := []struct {
		name string
		req  dispatch.SubmitRequest
	}{
		{name: "unknown operation", req: dispatch.SubmitRequest{Operation: "reverb", InputRef: "/a.wav"}},
		{name: "missing input", req: dispatch.SubmitRequest{Operation: queue.OperationTrim}},
		{name: "bad config", req: dispatch.SubmitRequest{Operation: queue.OperationDenoise, InputRef: "/a.wav", Config: map[string]any{"noise_reduction_level": 3.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.dispatcher.Submit(context.Background(), tt.req); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if _, err := h.dispatcher.Submit(context.Background(), dispatch.SubmitRequest{
		Operation: queue.OperationTTS,
		Config:    map[string]any{"text": "hello"},
	}); err != nil {
		t.Fatalf("tts without input should be accepted: %v", err)
	}
}

func TestCompletedJobFiresWebhookOnce(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	h.start(t)

	job := h.submit(t, queue.OperationDenoise, "http://hooks.test/done")
	done := h.wait(t, job.ID)
	if done.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", done.Status, done.Error)
	}
	if done.Output[processing.OutputPathKey] != "/outputs/"+job.ID+".wav" || done.Error != nil {
		t.Fatalf("unexpected output %+v error %+v", done.Output, done.Error)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatal("expected start and completion timestamps")
	}

	eventually(t, func() bool { return len(h.notifier.For(job.ID)) == 1 })
	time.Sleep(20 * time.Millisecond)
	deliveries := h.notifier.For(job.ID)
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one webhook, got %d", len(deliveries))
	}
	got := deliveries[0]
	if got.URL != "http://hooks.test/done" || got.Payload.Status != "completed" || got.Payload.Result == nil || got.Payload.Error != "" {
		t.Fatalf("unexpected delivery %+v", got)
	}
}

func TestJobWithoutCallbackSkipsWebhook(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	h.start(t)
	job := h.submit(t, queue.OperationTrim, "")
	h.wait(t, job.ID)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.notifier.Deliveries()); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestFailedJobRecordsErrorAndNotifies(t *testing.T) {
	h := newHarness(t, processing.Uniform(func(context.Context, processing.Input) (processing.Result, error) {
		return nil, services.Wrap(services.ErrProcessing, "test", "denoise", "decoder exploded", nil)
	}))
	h.start(t)

	job := h.submit(t, queue.OperationDenoise, "http://hooks.test/failed")
	done := h.wait(t, job.ID)
	if done.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if done.Error == nil || done.Error.Kind != services.KindProcessing || done.Output != nil {
		t.Fatalf("unexpected error %+v output %+v", done.Error, done.Output)
	}
	eventually(t, func() bool { return len(h.notifier.For(job.ID)) == 1 })
	payload := h.notifier.For(job.ID)[0].Payload
	if payload.Status != "failed" || payload.Error == "" || payload.Result != nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestPanicIsCapturedAsFailure(t *testing.T) {
	h := newHarness(t, processing.Uniform(func(context.Context, processing.Input) (processing.Result, error) {
		panic("boom")
	}))
	h.start(t)

	done := h.wait(t, h.submit(t, queue.OperationTranscribe, "").ID)
	if done.Status != queue.StatusFailed || done.Error == nil || done.Error.Kind != services.KindProcessing {
		t.Fatalf("expected processing failure, got %s %+v", done.Status, done.Error)
	}

	// The pool survives the panic.
	next := h.wait(t, h.submit(t, queue.OperationTranscribe, "").ID)
	if next.Status != queue.StatusFailed {
		t.Fatalf("expected second job to run, got %s", next.Status)
	}
}

func TestHardDeadlineForcesTimeoutAndDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	returned := make(chan struct{})
	h := newHarness(t, processing.Uniform(func(context.Context, processing.Input) (processing.Result, error) {
		<-release
		defer close(returned)
		return processing.Result{"late": true}, nil
	}), dispatch.WithDeadlines(20*time.Millisecond, 60*time.Millisecond))
	h.start(t)

	job := h.submit(t, queue.OperationSeparate, "http://hooks.test/timeout")
	done := h.wait(t, job.ID)
	if done.Status != queue.StatusFailed || done.Error == nil || done.Error.Kind != services.KindTimeout {
		t.Fatalf("expected timeout failure, got %s %+v", done.Status, done.Error)
	}

	close(release)
	<-returned
	time.Sleep(20 * time.Millisecond)

	after, err := h.dispatcher.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if after.Status != queue.StatusFailed || after.Output != nil {
		t.Fatalf("late result must be discarded, got %s %+v", after.Status, after.Output)
	}
	eventually(t, func() bool { return len(h.notifier.For(job.ID)) == 1 })
	if h.notifier.For(job.ID)[0].Payload.Status != "failed" {
		t.Fatalf("unexpected webhook %+v", h.notifier.For(job.ID))
	}
}

func TestSoftDeadlineReachesHandler(t *testing.T) {
	h := newHarness(t, processing.Uniform(func(ctx context.Context, _ processing.Input) (processing.Result, error) {
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("no deadline on context")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}), dispatch.WithDeadlines(20*time.Millisecond, time.Second))
	h.start(t)

	done := h.wait(t, h.submit(t, queue.OperationTranscribe, "").ID)
	if done.Status != queue.StatusFailed || done.Error.Kind != services.KindTimeout {
		t.Fatalf("expected timeout from soft deadline, got %s %+v", done.Status, done.Error)
	}
}

func TestCancelPendingJobIsNeverDispatched(t *testing.T) {
	var calls sync.Map
	h := newHarness(t, processing.Uniform(func(ctx context.Context, in processing.Input) (processing.Result, error) {
		calls.Store(in.JobID, true)
		return succeed(ctx, in)
	}), dispatch.WithWorkers(1))

	first := h.submit(t, queue.OperationDenoise, "http://hooks.test/cancelled")
	cancelled, err := h.dispatcher.Cancel(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled || cancelled.Error == nil || cancelled.Error.Kind != services.KindCancelled {
		t.Fatalf("unexpected cancelled job %+v", cancelled)
	}

	second := h.submit(t, queue.OperationDenoise, "")
	h.start(t)
	if got := h.wait(t, second.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("expected second job completed, got %s", got.Status)
	}
	if _, ran := calls.Load(first.ID); ran {
		t.Fatal("cancelled pending job must not run")
	}
	if got, _ := h.dispatcher.Status(context.Background(), first.ID); got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled to stick, got %s", got.Status)
	}
	if n := len(h.notifier.For(first.ID)); n != 0 {
		t.Fatalf("cancellation must not notify, got %d deliveries", n)
	}
}

func TestCancelProcessingIsAdvisory(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	h := newHarness(t, processing.Uniform(func(context.Context, processing.Input) (processing.Result, error) {
		close(started)
		<-release
		finished.Store(true)
		return processing.Result{"done": true}, nil
	}))
	h.start(t)

	job := h.submit(t, queue.OperationTrim, "http://hooks.test/x")
	<-started
	if _, err := h.dispatcher.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := h.wait(t, job.ID); got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	close(release)
	eventually(t, finished.Load)
	time.Sleep(20 * time.Millisecond)
	got, _ := h.dispatcher.Status(context.Background(), job.ID)
	if got.Status != queue.StatusCancelled || got.Output != nil {
		t.Fatalf("late result must not overwrite cancellation, got %s %+v", got.Status, got.Output)
	}
	if n := len(h.notifier.For(job.ID)); n != 0 {
		t.Fatalf("cancellation must not notify, got %d deliveries", n)
	}
}

func TestCancelTerminalAndUnknownJobs(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	h.start(t)
	job := h.wait(t, h.submit(t, queue.OperationDenoise, "").ID)

	if _, err := h.dispatcher.Cancel(context.Background(), job.ID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	got, _ := h.dispatcher.Status(context.Background(), job.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
	if _, err := h.dispatcher.Cancel(context.Background(), "task_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.dispatcher.Status(context.Background(), "task_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	h := newHarness(t, processing.Uniform(func(ctx context.Context, in processing.Input) (processing.Result, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		current.Add(-1)
		return succeed(ctx, in)
	}), dispatch.WithWorkers(2))
	h.start(t)

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		ids = append(ids, h.submit(t, queue.OperationSentiment, "").ID)
	}
	for _, id := range ids {
		if got := h.wait(t, id); got.Status != queue.StatusCompleted {
			t.Fatalf("job %s ended %s", id, got.Status)
		}
	}
	if p := peak.Load(); p > 2 || p < 1 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", p)
	}
}

func TestStartReclaimsStoredJobs(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	ctx := context.Background()

	stale := testsupport.SeedJob(t, h.store, "task_00000000000000aa", queue.OperationDenoise)
	if _, err := h.store.Update(ctx, stale.ID, func(j *queue.Job) error { return j.MarkProcessing(time.Now()) }); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	orphan := testsupport.SeedJob(t, h.store, "task_00000000000000bb", queue.OperationTrim)

	h.start(t)
	if got := h.wait(t, stale.ID); got.Status != queue.StatusFailed || got.Error.Kind != services.KindProcessing {
		t.Fatalf("expected interrupted job failed, got %s %+v", got.Status, got.Error)
	}
	if got := h.wait(t, orphan.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("expected stored pending job to run, got %s", got.Status)
	}
}

func TestStopCancelsInFlightJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h := newHarness(t, processing.Uniform(func(context.Context, processing.Input) (processing.Result, error) {
		close(started)
		<-release
		return nil, nil
	}))
	h.start(t)
	job := h.submit(t, queue.OperationTTS, "http://hooks.test/stop")
	<-started

	h.dispatcher.Stop()
	got, err := h.dispatcher.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled after stop, got %s", got.Status)
	}
	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := h.dispatcher.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a running dispatcher")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	h := newHarness(t, processing.Uniform(succeed))
	job := h.submit(t, queue.OperationDenoise, "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := h.dispatcher.Wait(ctx, job.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got == nil || got.Status != queue.StatusPending {
		t.Fatalf("expected pending snapshot, got %+v", got)
	}
}

func TestHandlersReceivePerJobOutputDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	seen := make(chan processing.Input, 1)
	set := processing.Uniform(func(_ context.Context, in processing.Input) (processing.Result, error) {
		seen <- in
		return processing.Result{}, nil
	})
	d := dispatch.New(cfg, queue.NewMemoryStore(), set, logging.NewNop())
	t.Cleanup(d.Stop)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job, err := d.Submit(context.Background(), dispatch.SubmitRequest{Operation: queue.OperationTrim, InputRef: "/in.wav"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case in := <-seen:
		if want := filepath.Join(cfg.Paths.OutputDir, job.ID); in.OutputDir != want {
			t.Fatalf("OutputDir = %q, want %q", in.OutputDir, want)
		}
		if in.JobID != job.ID || in.InputRef != "/in.wav" {
			t.Fatalf("unexpected input %+v", in)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not invoked")
	}
}
