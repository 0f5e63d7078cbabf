package queue_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"waveq/internal/queue"
	"waveq/internal/services"
)

func forEachStore(t *testing.T, fn func(t *testing.T, store queue.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		store := queue.NewMemoryStore()
		t.Cleanup(func() { _ = store.Close() })
		fn(t, store)
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := queue.OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "jobs.db"))
		if err != nil {
			t.Fatalf("OpenSQL: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		fn(t, store)
	})
}

func newJob(id string, created time.Time) *queue.Job {
	return &queue.Job{
		ID:        id,
		Operation: queue.OperationTranscribe,
		Status:    queue.StatusPending,
		InputRef:  "/uploads/" + id + ".wav",
		Config:    map[string]any{"model": "base", "timestamps": true},
		CreatedAt: created,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob("task_0000000000000001", time.Now())
		job.CallbackURL = "http://example.test/hook"
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.Create(ctx, job); !errors.Is(err, services.ErrDuplicate) {
			t.Fatalf("expected duplicate error, got %v", err)
		}

		got, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != queue.StatusPending || got.InputRef != job.InputRef || got.CallbackURL != job.CallbackURL {
			t.Fatalf("unexpected job: %+v", got)
		}
		if got.Config["model"] != "base" || got.Config["timestamps"] != true {
			t.Fatalf("config not preserved: %+v", got.Config)
		}
		if !got.CreatedAt.Equal(job.CreatedAt) {
			t.Fatalf("created_at mismatch: %s vs %s", got.CreatedAt, job.CreatedAt)
		}

		if _, err := store.Get(ctx, "task_missing"); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestStoreUpdateEnforcesStateMachine(t *testing.T) {
	forEachStore(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob("task_0000000000000002", time.Now())
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}

		_, err := store.Update(ctx, job.ID, func(j *queue.Job) error {
			j.Status = queue.StatusCompleted
			return nil
		})
		if !errors.Is(err, services.ErrInvalidState) {
			t.Fatalf("expected invalid state skipping processing, got %v", err)
		}

		updated, err := store.Update(ctx, job.ID, func(j *queue.Job) error { return j.MarkProcessing(time.Now()) })
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if updated.Status != queue.StatusProcessing || updated.StartedAt == nil {
			t.Fatalf("unexpected claimed job: %+v", updated)
		}

		done, err := store.Update(ctx, job.ID, func(j *queue.Job) error {
			return j.MarkCompleted(map[string]any{"transcript": "hello"}, time.Now())
		})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Output["transcript"] != "hello" || done.Error != nil {
			t.Fatalf("unexpected completed job: %+v", done)
		}

		_, err = store.Update(ctx, job.ID, func(j *queue.Job) error { return j.MarkCancelled("", time.Now()) })
		if !errors.Is(err, services.ErrInvalidState) {
			t.Fatalf("expected invalid state cancelling completed job, got %v", err)
		}
		final, _ := store.Get(ctx, job.ID)
		if final.Status != queue.StatusCompleted {
			t.Fatalf("terminal state regressed to %s", final.Status)
		}
	})
}

func TestStoreUpdateCallbackErrorLeavesJob(t *testing.T) {
	forEachStore(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob("task_0000000000000003", time.Now())
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
		boom := errors.New("boom")
		if _, err := store.Update(ctx, job.ID, func(j *queue.Job) error {
			j.InputRef = "changed"
			return boom
		}); !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.InputRef != job.InputRef {
			t.Fatalf("failed update leaked mutation: %q", got.InputRef)
		}
	})
}

func TestStoreConcurrentClaimHasSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob("task_0000000000000004", time.Now())
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Update(ctx, job.ID, func(j *queue.Job) error { return j.MarkProcessing(time.Now()) }); err == nil {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		if winners.Load() != 1 {
			t.Fatalf("expected exactly one claim to succeed, got %d", winners.Load())
		}
	})
}

func TestStoreListFiltersAndOrders(t *testing.T) {
	forEachStore(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)
		for i := 0; i < 4; i++ {
			job := newJob(fmt.Sprintf("task_%016d", 10+i), base.Add(time.Duration(i)*time.Minute))
			if i%2 == 0 {
				job.WorkflowID = "workflow_a"
			}
			if err := store.Create(ctx, job); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		if _, err := store.Update(ctx, fmt.Sprintf("task_%016d", 11), func(j *queue.Job) error { return j.MarkCancelled("", time.Now()) }); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		all, err := store.List(ctx, queue.Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 4 || all[0].ID != fmt.Sprintf("task_%016d", 10) || all[3].ID != fmt.Sprintf("task_%016d", 13) {
			t.Fatalf("unexpected order: %v", ids(all))
		}

		pending, _ := store.List(ctx, queue.Filter{Statuses: []queue.Status{queue.StatusPending}})
		if len(pending) != 3 {
			t.Fatalf("expected 3 pending, got %v", ids(pending))
		}
		wf, _ := store.List(ctx, queue.Filter{WorkflowID: "workflow_a", Limit: 1})
		if len(wf) != 1 || wf[0].ID != fmt.Sprintf("task_%016d", 10) {
			t.Fatalf("unexpected workflow listing: %v", ids(wf))
		}

		counts, err := store.Counts(ctx)
		if err != nil {
			t.Fatalf("Counts: %v", err)
		}
		if counts[queue.StatusPending] != 3 || counts[queue.StatusCancelled] != 1 {
			t.Fatalf("unexpected counts: %v", counts)
		}
	})
}

func TestStorePurgeAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		old := newJob("task_0000000000000020", time.Now().Add(-48*time.Hour))
		fresh := newJob("task_0000000000000021", time.Now())
		active := newJob("task_0000000000000022", time.Now().Add(-48*time.Hour))
		for _, job := range []*queue.Job{old, fresh, active} {
			if err := store.Create(ctx, job); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		longAgo := time.Now().Add(-47 * time.Hour)
		if _, err := store.Update(ctx, old.ID, func(j *queue.Job) error { return j.MarkCancelled("", longAgo) }); err != nil {
			t.Fatalf("cancel old: %v", err)
		}
		if _, err := store.Update(ctx, fresh.ID, func(j *queue.Job) error { return j.MarkCancelled("", time.Now()) }); err != nil {
			t.Fatalf("cancel fresh: %v", err)
		}

		removed, err := store.PurgeFinished(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("PurgeFinished: %v", err)
		}
		if removed != 1 {
			t.Fatalf("expected 1 purged job, got %d", removed)
		}
		if _, err := store.Get(ctx, old.ID); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected old job purged, got %v", err)
		}
		if _, err := store.Get(ctx, active.ID); err != nil {
			t.Fatalf("pending job must survive purge: %v", err)
		}

		if err := store.Delete(ctx, fresh.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := store.Delete(ctx, fresh.ID); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected not found deleting twice, got %v", err)
		}
	})
}

func TestSQLStoreReopenKeepsJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()
	store, err := queue.OpenSQL(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	if err := store.Create(ctx, newJob("task_0000000000000030", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = store.Close()

	reopened, err := queue.OpenSQL(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "task_0000000000000030"); err != nil {
		t.Fatalf("expected job after reopen: %v", err)
	}
}

func TestOpenSQLRejectsUnknownBackend(t *testing.T) {
	if _, err := queue.OpenSQL(context.Background(), "oracle", "dsn"); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func ids(jobs []*queue.Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.ID
	}
	return out
}
