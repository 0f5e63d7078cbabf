package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"waveq/internal/services"
)

// MemoryStore keeps jobs in process. The map lock guards membership while a
// per-entry lock serializes transitions of a single job.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	job     *Job
	removed bool
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return services.Wrap(services.ErrValidation, "queue", "create", "job id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.ID]; exists {
		return services.Wrap(services.ErrDuplicate, "queue", "create", fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	s.entries[job.ID] = &memoryEntry{job: job.Clone()}
	return nil
}

func (s *MemoryStore) lookup(id string) (*memoryEntry, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return entry, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return nil, notFound(id)
	}
	return entry.job.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job) error) (*Job, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return nil, notFound(id)
	}
	working := entry.job.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := checkMutation(entry.job, working); err != nil {
		return nil, err
	}
	entry.job = working
	return working.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Job, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	jobs := make([]*Job, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.removed && filter.matches(entry.job) {
			jobs = append(jobs, entry.job.Clone())
		}
		entry.mu.Unlock()
	}
	sortJobs(jobs)
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return notFound(id)
	}
	entry.mu.Lock()
	entry.removed = true
	entry.mu.Unlock()
	return nil
}

func (s *MemoryStore) PurgeFinished(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		entry.mu.Lock()
		job := entry.job
		expired := job.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(before)
		if expired {
			entry.removed = true
		}
		entry.mu.Unlock()
		if expired {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Counts(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int, len(allStatuses))
	for _, entry := range s.entries {
		entry.mu.Lock()
		counts[entry.job.Status]++
		entry.mu.Unlock()
	}
	return counts, nil
}

func (s *MemoryStore) Close() error { return nil }

// checkMutation rejects updates that change identity or skip the state machine.
func checkMutation(before, after *Job) error {
	if after.ID != before.ID {
		return services.Wrap(services.ErrValidation, "queue", "update", "job id is immutable", nil)
	}
	if after.Status != before.Status && !CanTransition(before.Status, after.Status) {
		return services.Wrap(services.ErrInvalidState, "queue", "update",
			fmt.Sprintf("job %s cannot move from %s to %s", before.ID, before.Status, after.Status), nil)
	}
	return nil
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "queue", "lookup", fmt.Sprintf("job %s", id), nil)
}

func sortJobs(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
