package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
)

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return segue.ErrJobAlreadyExists
		}
		return fmt.Errorf("segue/bun: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims the single best eligible pending job.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers off each other's rows,
// so two workers never receive the same job.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID, jobTypes []string, lease time.Duration) (*job.Job, error) {
	var models []jobModel
	_, err := s.db.NewRaw(`
		WITH claimed AS (
			UPDATE segue_jobs
			SET state = 'processing',
			    claimed_by = ?0,
			    claimed_at = NOW(),
			    lease_expires_at = NOW() + make_interval(secs => ?1),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM segue_jobs
				WHERE state = 'pending'
				  AND run_at <= NOW()
				  AND (?2 OR type = ANY(?3))
				ORDER BY priority DESC, run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING *
		)
		SELECT * FROM claimed`,
		workerID.String(), lease.Seconds(), len(jobTypes) == 0, pgdialect.Array(jobTypes),
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: claim job: %w", err)
	}

	if len(models) == 0 {
		return nil, nil
	}
	return fromJobModel(&models[0])
}

// CompleteJob transitions processing → completed for the owning worker.
// A job already completed is a no-op; any other miss is an ownership
// failure.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, result []byte) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_jobs").
		Set("state = 'completed'").
		Set("result = ?", result).
		Set("completed_at = NOW()").
		Set("claimed_by = ''").
		Set("claimed_at = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'processing'").
		Where("claimed_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: complete job: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}
	return s.classifyMiss(ctx, jobID)
}

// classifyMiss distinguishes the reasons a guarded job update matched
// nothing: missing row, already completed (harmless duplicate), or a
// lost claim.
func (s *Store) classifyMiss(ctx context.Context, jobID id.JobID) error {
	var state string
	err := s.db.NewSelect().
		TableExpr("segue_jobs").
		Column("state").
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx, &state)
	if err != nil {
		if isNoRows(err) {
			return segue.ErrJobNotFound
		}
		return fmt.Errorf("segue/bun: classify update miss: %w", err)
	}
	if state == string(job.StateCompleted) {
		return nil
	}
	return segue.ErrNotOwner
}

// FailJob records a failed attempt in one atomic statement: increments
// the attempt count, appends to the JSONB attempt history, and either
// requeues the job for retryAt or terminally fails it.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, retryAt *time.Time) (*job.Job, error) {
	var models []jobModel
	_, err := s.db.NewRaw(`
		UPDATE segue_jobs
		SET attempt_count = attempt_count + 1,
		    attempts = COALESCE(attempts, '[]'::jsonb) || jsonb_build_object(
		        'number', attempt_count + 1,
		        'worker_id', claimed_by,
		        'error', ?2::text,
		        'failed_at', NOW()
		    ),
		    last_error = ?2,
		    state = CASE WHEN ?3::timestamptz IS NULL THEN 'failed' ELSE 'pending' END,
		    run_at = COALESCE(?3::timestamptz, run_at),
		    claimed_by = '',
		    claimed_at = NULL,
		    lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = ?0 AND state = 'processing' AND claimed_by = ?1
		RETURNING *`,
		jobID.String(), workerID.String(), errMsg, retryAt,
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: fail job: %w", err)
	}

	if len(models) == 0 {
		if missErr := s.classifyMiss(ctx, jobID); missErr != nil {
			return nil, missErr
		}
		return nil, segue.ErrNotOwner
	}
	return fromJobModel(&models[0])
}

// RenewLease extends the processing lease for a job owned by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_jobs").
		Set("lease_expires_at = NOW() + make_interval(secs => ?)", lease.Seconds()).
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'processing'").
		Where("claimed_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: renew lease: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.renewMiss(ctx, jobID)
	}
	return nil
}

func (s *Store) renewMiss(ctx context.Context, jobID id.JobID) error {
	exists, err := s.db.NewSelect().
		TableExpr("segue_jobs").
		Where("id = ?", jobID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: renew miss: %w", err)
	}
	if !exists {
		return segue.ErrJobNotFound
	}
	return segue.ErrNotOwner
}

// ReleaseJob returns a claimed job to pending without recording an attempt.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_jobs").
		Set("state = 'pending'").
		Set("run_at = ?", runAt.UTC()).
		Set("claimed_by = ''").
		Set("claimed_at = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'processing'").
		Where("claimed_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: release job: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.renewMiss(ctx, jobID)
	}
	return nil
}

// ReclaimExpired atomically resolves processing jobs whose lease expired
// before now: jobs with attempt budget left go back to pending, the rest
// are terminally failed. Either way the expiry is recorded as a failed
// attempt. Safe to run concurrently on multiple nodes.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	_, err := s.db.NewRaw(`
		WITH expired AS (
			SELECT id FROM segue_jobs
			WHERE state = 'processing' AND lease_expires_at < ?0
			ORDER BY lease_expires_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?1
		),
		resolved AS (
			UPDATE segue_jobs
			SET attempt_count = attempt_count + 1,
			    attempts = COALESCE(attempts, '[]'::jsonb) || jsonb_build_object(
			        'number', attempt_count + 1,
			        'worker_id', claimed_by,
			        'error', 'claim lease expired',
			        'failed_at', ?0::timestamptz
			    ),
			    last_error = 'claim lease expired',
			    state = CASE WHEN attempt_count < max_attempts THEN 'pending' ELSE 'failed' END,
			    run_at = CASE WHEN attempt_count < max_attempts THEN ?0::timestamptz ELSE run_at END,
			    claimed_by = '',
			    claimed_at = NULL,
			    lease_expires_at = NULL,
			    updated_at = NOW()
			WHERE id IN (SELECT id FROM expired)
			RETURNING *
		)
		SELECT * FROM resolved`,
		now.UTC(), limit,
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: reclaim expired: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("segue/bun: reclaim convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, segue.ErrJobNotFound
		}
		return nil, fmt.Errorf("segue/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state))

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}

	q = q.Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("segue/bun: list jobs by state: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("segue/bun: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("segue_jobs")

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("segue/bun: count jobs: %w", err)
	}
	return int64(count), nil
}
