package dlq

import (
	"context"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a dead letter service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push archives a terminally-failed job. The job's attempt history and
// final error travel with the entry.
func (s *Service) Push(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:              id.NewDLQID(),
		JobID:           j.ID,
		JobType:         j.Type,
		Segment:         j.Segment,
		PayloadSnapshot: j.Payload,
		Reason:          j.LastError,
		AttemptHistory:  j.Attempts,
		AttemptCount:    j.AttemptCount,
		MaxAttempts:     j.MaxAttempts,
		FailedAt:        now,
		CreatedAt:       now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Replay re-enqueues a dead letter entry as a new pending job and marks
// the entry replayed. The new job gets a fresh ID, a zeroed attempt count,
// and runs immediately — the operator-triggered recovery path.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:      segue.NewEntity(),
		ID:          id.NewJobID(),
		Type:        entry.JobType,
		Payload:     entry.PayloadSnapshot,
		State:       job.StatePending,
		Segment:     entry.Segment,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       time.Now().UTC(),
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.MarkReplayed(ctx, entryID); err != nil {
		// The job is already enqueued. Return it along with the error.
		return j, err
	}

	return j, nil
}

// Store returns the underlying dead letter store for direct access to
// List, Get, Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
