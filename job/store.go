package job

import (
	"context"
	"time"

	"github.com/onairlab/segue/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Type filters by job type. Empty means all types.
	Type string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Type filters by job type. Empty means all types.
	Type string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Claim, Complete, Fail
// and ReclaimExpired must each execute atomically against the backing
// store; they are the only mutation paths for a job row.
type Store interface {
	// EnqueueJob persists a new job in pending state.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically selects the single highest-priority, oldest
	// eligible pending job whose type is in jobTypes (all types when
	// empty), transitions it to processing owned by workerID with a lease
	// of the given duration, and returns it. Two concurrent callers never
	// receive the same job. Returns (nil, nil) when no job is eligible.
	ClaimJob(ctx context.Context, workerID id.WorkerID, jobTypes []string, lease time.Duration) (*Job, error)

	// CompleteJob transitions processing → completed and stores the
	// result. Completing an already-completed job is a no-op, so duplicate
	// deliveries are harmless. Returns segue.ErrNotOwner when the caller
	// no longer holds the claim.
	CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, result []byte) error

	// FailJob records a failed attempt for a job owned by workerID.
	// With a non-nil retryAt the job re-enters the claimable pool at that
	// time; with nil it is terminally failed. Either way the attempt count
	// is incremented and the attempt appended to the history. Returns the
	// job as stored. Returns segue.ErrNotOwner when the caller lost the
	// claim.
	FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, retryAt *time.Time) (*Job, error)

	// RenewLease extends the processing lease for a job owned by workerID.
	RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error

	// ReleaseJob returns a claimed job to pending without recording an
	// attempt, eligible again at runAt. Used when a worker claims a job it
	// cannot execute right now (rate limited, shutting down). Returns
	// segue.ErrNotOwner when the caller lost the claim.
	ReleaseJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error

	// ReclaimExpired atomically resolves processing jobs whose lease
	// expired before now: jobs with attempts remaining go back to pending
	// with the attempt count incremented (same path as a retryable
	// failure); jobs whose budget is already spent are terminally failed.
	// Returns the affected jobs in their new state, at most limit of them.
	ReclaimExpired(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
