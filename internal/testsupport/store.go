package testsupport

import (
	"context"
	"testing"
	"time"

	"waveq/internal/config"
	"waveq/internal/queue"
)

// MustOpenStore opens the configured queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
	t.Helper()

	store, err := queue.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SeedJob inserts a pending job directly into the store.
func SeedJob(t testing.TB, store queue.Store, id string, op queue.Operation) *queue.Job {
	t.Helper()

	job := &queue.Job{
		ID:        id,
		Operation: op,
		Status:    queue.StatusPending,
		InputRef:  "/uploads/" + id + ".wav",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
