package queue

import (
	"context"
	"time"
)

// Store persists jobs. Implementations must apply Update atomically per job
// id so concurrent callers never observe or write a torn transition.
type Store interface {
	// Create inserts a new job. A job with the same id yields services.ErrDuplicate.
	Create(ctx context.Context, job *Job) error
	// Get returns a snapshot or services.ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn to a copy of the job and commits it only if fn
	// succeeds. fn may be invoked more than once under contention and must
	// not have side effects beyond mutating the job.
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
	// List returns jobs ordered by creation time.
	List(ctx context.Context, filter Filter) ([]*Job, error)
	// Delete removes a job.
	Delete(ctx context.Context, id string) error
	// PurgeFinished deletes terminal jobs completed before the cutoff.
	PurgeFinished(ctx context.Context, before time.Time) (int, error)
	// Counts returns the number of jobs per status.
	Counts(ctx context.Context) (map[Status]int, error)
	Close() error
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses   []Status
	WorkflowID string
	Limit      int
}

func (f Filter) matches(job *Job) bool {
	if f.WorkflowID != "" && job.WorkflowID != f.WorkflowID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, status := range f.Statuses {
		if job.Status == status {
			return true
		}
	}
	return false
}

func terminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusCancelled}
}
