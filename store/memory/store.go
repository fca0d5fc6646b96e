// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// Ensure Store implements every subsystem store at compile time.
var (
	_ job.Store     = (*Store)(nil)
	_ segment.Store = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of the segue stores.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	segments map[string]*segment.Segment
	segByKey map[string]string // idempotency key → segment ID
	dlqs     map[string]*dlq.Entry
	dlqOrder []string // insertion order, oldest first

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		segments: make(map[string]*segment.Segment),
		segByKey: make(map[string]string),
		dlqs:     make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return segue.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.Attempts != nil {
		cp.Attempts = make([]job.Attempt, len(j.Attempts))
		copy(cp.Attempts, j.Attempts)
	}
	return &cp
}

func copySegment(s *segment.Segment) *segment.Segment {
	cp := *s
	if s.Chunks != nil {
		cp.Chunks = make([]string, len(s.Chunks))
		copy(cp.Chunks, s.Chunks)
	}
	return &cp
}

func copyEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	if e.AttemptHistory != nil {
		cp.AttemptHistory = make([]job.Attempt, len(e.AttemptHistory))
		copy(cp.AttemptHistory, e.AttemptHistory)
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return segue.ErrJobAlreadyExists
	}
	m.jobs[key] = copyJob(j)
	return nil
}

// ClaimJob atomically claims the best eligible pending job. The whole
// selection and claim happens under one lock, so two concurrent callers
// never receive the same job.
func (m *Store) ClaimJob(_ context.Context, workerID id.WorkerID, jobTypes []string, lease time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	typeSet := make(map[string]struct{}, len(jobTypes))
	for _, t := range jobTypes {
		typeSet[t] = struct{}{}
	}

	now := time.Now().UTC()

	var best *job.Job
	for _, j := range m.jobs {
		if j.State != job.StatePending {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[j.Type]; !ok {
				continue
			}
		}
		if best == nil || claimBefore(j, best) {
			best = j
		}
	}

	if best == nil {
		return nil, nil
	}

	best.State = job.StateProcessing
	best.ClaimedBy = workerID
	claimed := now
	expires := now.Add(lease)
	best.ClaimedAt = &claimed
	best.LeaseExpiresAt = &expires
	best.UpdatedAt = now

	return copyJob(best), nil
}

// claimBefore orders claim candidates: priority DESC, then RunAt ASC,
// then CreatedAt ASC as the FIFO tie-break.
func claimBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// CompleteJob transitions processing → completed. Duplicate completions
// are no-ops; a caller that lost the claim gets segue.ErrNotOwner.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return segue.ErrJobNotFound
	}

	if j.State == job.StateCompleted {
		return nil
	}
	if j.State != job.StateProcessing || j.ClaimedBy != workerID {
		return segue.ErrNotOwner
	}

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.CompletedAt = &now
	j.ClaimedBy = id.Nil
	j.ClaimedAt = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

// FailJob records a failed attempt and either requeues the job for the
// given retryAt or terminally fails it.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, retryAt *time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, segue.ErrJobNotFound
	}
	if j.State != job.StateProcessing || j.ClaimedBy != workerID {
		return nil, segue.ErrNotOwner
	}

	now := time.Now().UTC()
	recordAttempt(j, workerID, errMsg, now)

	if retryAt != nil {
		j.State = job.StatePending
		j.RunAt = retryAt.UTC()
	} else {
		j.State = job.StateFailed
	}
	j.ClaimedBy = id.Nil
	j.ClaimedAt = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now

	return copyJob(j), nil
}

func recordAttempt(j *job.Job, workerID id.WorkerID, errMsg string, now time.Time) {
	j.AttemptCount++
	j.Attempts = append(j.Attempts, job.Attempt{
		Number:   j.AttemptCount,
		WorkerID: workerID,
		Error:    errMsg,
		FailedAt: now,
	})
	j.LastError = errMsg
}

// RenewLease extends the processing lease for a job owned by workerID.
func (m *Store) RenewLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return segue.ErrJobNotFound
	}
	if j.State != job.StateProcessing || j.ClaimedBy != workerID {
		return segue.ErrNotOwner
	}

	expires := time.Now().UTC().Add(lease)
	j.LeaseExpiresAt = &expires
	return nil
}

// ReleaseJob returns a claimed job to pending without recording an attempt.
func (m *Store) ReleaseJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return segue.ErrJobNotFound
	}
	if j.State != job.StateProcessing || j.ClaimedBy != workerID {
		return segue.ErrNotOwner
	}

	j.State = job.StatePending
	j.RunAt = runAt.UTC()
	j.ClaimedBy = id.Nil
	j.ClaimedAt = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ReclaimExpired resolves processing jobs whose lease expired before now.
// Jobs with attempt budget left go back to pending; exhausted jobs are
// terminally failed. Both outcomes record the expiry as a failed attempt.
func (m *Store) ReclaimExpired(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	var reclaimed []*job.Job
	for _, j := range m.jobs {
		if limit > 0 && len(reclaimed) >= limit {
			break
		}
		if j.State != job.StateProcessing {
			continue
		}
		if j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}

		retryable := j.AttemptCount < j.MaxAttempts
		recordAttempt(j, j.ClaimedBy, "claim lease expired", now)

		if retryable {
			j.State = job.StatePending
			j.RunAt = now
		} else {
			j.State = job.StateFailed
		}
		j.ClaimedBy = id.Nil
		j.ClaimedAt = nil
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now

		reclaimed = append(reclaimed, copyJob(j))
	}

	return reclaimed, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, segue.ErrJobNotFound
	}
	return copyJob(j), nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	var matched []*job.Job
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})

	matched = window(matched, opts.Offset, opts.Limit)
	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		out[i] = copyJob(j)
	}
	return out, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, segue.ErrStoreClosed
	}

	var n int64
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// window applies offset/limit pagination to a sorted slice.
func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────
// Segment Store
// ──────────────────────────────────────────────────

// CreateSegment persists a new segment. The idempotency key is unique:
// a duplicate create for the same show + slot is rejected.
func (m *Store) CreateSegment(_ context.Context, s *segment.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	key := s.ID.String()
	if _, exists := m.segments[key]; exists {
		return segue.ErrSegmentAlreadyExists
	}
	if s.IdempotencyKey != "" {
		if _, exists := m.segByKey[s.IdempotencyKey]; exists {
			return segue.ErrSegmentAlreadyExists
		}
		m.segByKey[s.IdempotencyKey] = key
	}
	m.segments[key] = copySegment(s)
	return nil
}

// GetSegment retrieves a segment by ID.
func (m *Store) GetSegment(_ context.Context, segmentID id.SegmentID) (*segment.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	s, ok := m.segments[segmentID.String()]
	if !ok {
		return nil, segue.ErrSegmentNotFound
	}
	return copySegment(s), nil
}

// GetSegmentByIdempotencyKey retrieves a segment by its dedup key.
func (m *Store) GetSegmentByIdempotencyKey(_ context.Context, key string) (*segment.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	segID, ok := m.segByKey[key]
	if !ok {
		return nil, segue.ErrSegmentNotFound
	}
	return copySegment(m.segments[segID]), nil
}

// TransitionSegment is the compare-and-swap state advance.
func (m *Store) TransitionSegment(_ context.Context, segmentID id.SegmentID, expectedFrom, to segment.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	s, ok := m.segments[segmentID.String()]
	if !ok {
		return segue.ErrSegmentNotFound
	}
	if s.State != expectedFrom {
		return segue.ErrStateConflict
	}

	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSegmentFailed moves any non-terminal segment to failed. An
// already-failed segment is left unchanged; archived is untouchable.
func (m *Store) MarkSegmentFailed(_ context.Context, segmentID id.SegmentID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	s, ok := m.segments[segmentID.String()]
	if !ok {
		return segue.ErrSegmentNotFound
	}
	if s.State == segment.StateFailed {
		return nil
	}
	if s.State == segment.StateArchived {
		return segue.ErrStateConflict
	}

	s.State = segment.StateFailed
	s.RetryCount++
	if cause != "" {
		s.LastError = cause
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// RetrySegment is the manual recovery action: failed → queued with the
// retry counter and last error reset.
func (m *Store) RetrySegment(_ context.Context, segmentID id.SegmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	s, ok := m.segments[segmentID.String()]
	if !ok {
		return segue.ErrSegmentNotFound
	}
	if s.State != segment.StateFailed {
		return segue.ErrStateConflict
	}

	s.State = segment.StateQueued
	s.RetryCount = 0
	s.LastError = ""
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSegmentArtifacts stores stage outputs without touching state.
func (m *Store) UpdateSegmentArtifacts(_ context.Context, in *segment.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	s, ok := m.segments[in.ID.String()]
	if !ok {
		return segue.ErrSegmentNotFound
	}

	if in.Chunks != nil {
		s.Chunks = make([]string, len(in.Chunks))
		copy(s.Chunks, in.Chunks)
	}
	if in.Script != "" {
		s.Script = in.Script
	}
	if in.AudioRef != "" {
		s.AudioRef = in.AudioRef
	}
	if in.DurationSec != 0 {
		s.DurationSec = in.DurationSec
	}
	if in.LoudnessLUFS != 0 {
		s.LoudnessLUFS = in.LoudnessLUFS
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// ListSegmentsByState returns segments in the given state, oldest slot first.
func (m *Store) ListSegmentsByState(_ context.Context, state segment.State, opts segment.ListOpts) ([]*segment.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	var matched []*segment.Segment
	for _, s := range m.segments {
		if s.State != state {
			continue
		}
		if opts.Show != "" && s.Show != opts.Show {
			continue
		}
		matched = append(matched, s)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].SlotAt.Before(matched[k].SlotAt)
	})

	matched = window(matched, opts.Offset, opts.Limit)
	out := make([]*segment.Segment, len(matched))
	for i, s := range matched {
		out[i] = copySegment(s)
	}
	return out, nil
}

// CountSegments returns the number of segments in the given state.
func (m *Store) CountSegments(_ context.Context, state segment.State) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, segue.ErrStoreClosed
	}

	var n int64
	for _, s := range m.segments {
		if state != "" && s.State != state {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Dead Letter Store
// ──────────────────────────────────────────────────

// PushDLQ appends a terminally-failed job entry to the archive.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	key := entry.ID.String()
	m.dlqs[key] = copyEntry(entry)
	m.dlqOrder = append(m.dlqOrder, key)
	return nil
}

// ListDLQ returns entries matching the given options, oldest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	var matched []*dlq.Entry
	for _, key := range m.dlqOrder {
		e, ok := m.dlqs[key]
		if !ok {
			continue
		}
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		matched = append(matched, e)
	}

	matched = window(matched, opts.Offset, opts.Limit)
	out := make([]*dlq.Entry, len(matched))
	for i, e := range matched {
		out[i] = copyEntry(e)
	}
	return out, nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, segue.ErrStoreClosed
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, segue.ErrDLQNotFound
	}
	return copyEntry(e), nil
}

// MarkReplayed records that an entry has been replayed.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return segue.ErrStoreClosed
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return segue.ErrDLQNotFound
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, segue.ErrStoreClosed
	}

	var removed int64
	kept := m.dlqOrder[:0]
	for _, key := range m.dlqOrder {
		e, ok := m.dlqs[key]
		if ok && e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	m.dlqOrder = kept
	return removed, nil
}

// CountDLQ returns the total number of archived entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, segue.ErrStoreClosed
	}
	return int64(len(m.dlqs)), nil
}
