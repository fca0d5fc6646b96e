package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/backoff"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
)

// Notifier wakes idle workers after an enqueue. Purely an optimization:
// polling remains the correctness path, so Nudge failures are logged and
// ignored.
type Notifier interface {
	Nudge(ctx context.Context, jobType string)
}

// Service coordinates the job store, dead letter service, retry backoff
// and lifecycle hooks behind the enqueue/claim/complete/fail operations.
type Service struct {
	store    job.Store
	registry *job.Registry
	dlq      *dlq.Service
	backoff  backoff.Strategy
	hooks    *hook.Registry
	notifier Notifier
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier sets the enqueue wakeup notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) ServiceOption {
	return func(s *Service) { s.backoff = b }
}

// NewService creates a queue service.
func NewService(
	store job.Store,
	registry *job.Registry,
	dlqService *dlq.Service,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		dlq:      dlqService,
		backoff:  backoff.DefaultStrategy(),
		hooks:    hooks,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue validates the payload against the job type's registered schema
// and inserts a pending job. A payload that does not match never enters
// the store.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if err := s.registry.Validate(jobType, payload); err != nil {
		return nil, err
	}

	jobOpts, ok := s.registry.Options(jobType)
	if !ok {
		jobOpts = job.DefaultOptions()
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      segue.NewEntity(),
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     payload,
		Priority:    jobOpts.Priority,
		State:       job.StatePending,
		MaxAttempts: jobOpts.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		RunAt:       now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}
	if jobOpts.Segment != "" {
		segID, err := id.ParseSegmentID(string(jobOpts.Segment))
		if err != nil {
			return nil, &segue.ValidationError{JobType: jobType, Err: err}
		}
		j.Segment = segID
	}

	if err := s.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	s.hooks.EmitJobEnqueued(ctx, j)
	if s.notifier != nil {
		s.notifier.Nudge(ctx, jobType)
	}
	return j, nil
}

// Claim atomically hands the next eligible pending job to workerID.
// Returns (nil, nil) when the pool is empty — losing a claim race is not
// an error.
func (s *Service) Claim(ctx context.Context, workerID id.WorkerID, jobTypes []string, lease time.Duration) (*job.Job, error) {
	return s.store.ClaimJob(ctx, workerID, jobTypes, lease)
}

// Complete reports a successful execution. Duplicate completions and
// completions from a worker that lost its lease are dropped as no-ops —
// the outcome the surviving execution recorded stands.
func (s *Service) Complete(ctx context.Context, j *job.Job, result []byte) error {
	err := s.store.CompleteJob(ctx, j.ID, j.ClaimedBy, result)
	if errors.Is(err, segue.ErrNotOwner) {
		s.logger.Warn("stale completion dropped",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.ClaimedBy.String()),
		)
		return nil
	}
	if err != nil {
		return err
	}

	s.hooks.EmitJobCompleted(ctx, j)
	return nil
}

// Fail reports a failed execution. Retryable failures with budget left
// re-enter the claimable pool after a backoff delay; everything else is
// terminally failed and archived to the dead letter store. A caller that
// lost its lease is dropped as a no-op.
func (s *Service) Fail(ctx context.Context, j *job.Job, jobErr error, shouldRetry bool) error {
	var retryAt *time.Time
	if shouldRetry && j.AttemptCount < j.MaxAttempts {
		at := time.Now().UTC().Add(s.backoff.Delay(j.AttemptCount + 1))
		retryAt = &at
	}

	failed, err := s.store.FailJob(ctx, j.ID, j.ClaimedBy, jobErr.Error(), retryAt)
	if errors.Is(err, segue.ErrNotOwner) {
		s.logger.Warn("stale failure report dropped",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.ClaimedBy.String()),
		)
		return nil
	}
	if err != nil {
		return err
	}

	if retryAt != nil {
		s.hooks.EmitJobRetrying(ctx, failed, failed.AttemptCount, *retryAt)
		s.logger.Info("job scheduled for retry",
			slog.String("job_id", failed.ID.String()),
			slog.String("job_type", failed.Type),
			slog.Int("attempt", failed.AttemptCount),
			slog.Int("max_attempts", failed.MaxAttempts),
			slog.Time("run_at", *retryAt),
		)
		return nil
	}

	return s.DeadLetter(ctx, failed, jobErr)
}

// DeadLetter archives a terminally-failed job and emits the lifecycle
// hooks. Used by Fail and by the reaper when a reclaimed job's budget is
// already spent.
func (s *Service) DeadLetter(ctx context.Context, j *job.Job, jobErr error) error {
	if err := s.dlq.Push(ctx, j); err != nil {
		s.logger.Error("failed to archive job to dead letter store",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.hooks.EmitJobFailed(ctx, j, jobErr)
	s.hooks.EmitJobDeadLettered(ctx, j, jobErr)

	s.logger.Warn("job dead-lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt_count", j.AttemptCount),
		slog.String("error", jobErr.Error()),
	)
	return nil
}

// Store returns the underlying job store.
func (s *Service) Store() job.Store { return s.store }

// Registry returns the job registry backing validation.
func (s *Service) Registry() *job.Registry { return s.registry }
