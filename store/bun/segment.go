package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/segment"
)

// CreateSegment persists a new segment. Both the primary key and the
// idempotency key are unique, so a duplicate slot resolves here.
func (s *Store) CreateSegment(ctx context.Context, seg *segment.Segment) error {
	m := toSegmentModel(seg)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return segue.ErrSegmentAlreadyExists
		}
		return fmt.Errorf("segue/bun: create segment: %w", err)
	}
	return nil
}

// GetSegment retrieves a segment by ID.
func (s *Store) GetSegment(ctx context.Context, segmentID id.SegmentID) (*segment.Segment, error) {
	m := new(segmentModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", segmentID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, segue.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("segue/bun: get segment: %w", err)
	}
	return fromSegmentModel(m)
}

// GetSegmentByIdempotencyKey retrieves a segment by its dedup key.
func (s *Store) GetSegmentByIdempotencyKey(ctx context.Context, key string) (*segment.Segment, error) {
	m := new(segmentModel)
	err := s.db.NewSelect().Model(m).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, segue.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("segue/bun: get segment by key: %w", err)
	}
	return fromSegmentModel(m)
}

// TransitionSegment is the compare-and-swap state move: the WHERE clause
// carries the expected source state, so a concurrent transition leaves
// zero rows affected instead of clobbering the winner.
func (s *Store) TransitionSegment(ctx context.Context, segmentID id.SegmentID, expectedFrom, to segment.State) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_segments").
		Set("state = ?", string(to)).
		Set("updated_at = NOW()").
		Where("id = ?", segmentID.String()).
		Where("state = ?", string(expectedFrom)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: transition segment: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.segmentMiss(ctx, segmentID)
	}
	return nil
}

// segmentMiss resolves a zero-row guarded update into not-found or a
// state conflict.
func (s *Store) segmentMiss(ctx context.Context, segmentID id.SegmentID) error {
	exists, err := s.db.NewSelect().
		TableExpr("segue_segments").
		Where("id = ?", segmentID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: segment miss: %w", err)
	}
	if !exists {
		return segue.ErrSegmentNotFound
	}
	return segue.ErrStateConflict
}

// MarkSegmentFailed moves any non-terminal segment to failed. An
// already-failed segment is left unchanged; archived is untouchable.
func (s *Store) MarkSegmentFailed(ctx context.Context, segmentID id.SegmentID, cause string) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_segments").
		Set("state = ?", string(segment.StateFailed)).
		Set("retry_count = retry_count + 1").
		Set("last_error = CASE WHEN ?::text = '' THEN last_error ELSE ? END", cause, cause).
		Set("updated_at = NOW()").
		Where("id = ?", segmentID.String()).
		Where("state NOT IN (?)", bun.In([]string{
			string(segment.StateFailed),
			string(segment.StateArchived),
		})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: mark segment failed: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}

	var state string
	err = s.db.NewSelect().
		TableExpr("segue_segments").
		Column("state").
		Where("id = ?", segmentID.String()).
		Limit(1).
		Scan(ctx, &state)
	if err != nil {
		if isNoRows(err) {
			return segue.ErrSegmentNotFound
		}
		return fmt.Errorf("segue/bun: mark failed miss: %w", err)
	}
	if state == string(segment.StateFailed) {
		return nil
	}
	return segue.ErrStateConflict
}

// RetrySegment is the manual recovery action: failed → queued with the
// retry counter and last error reset.
func (s *Store) RetrySegment(ctx context.Context, segmentID id.SegmentID) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_segments").
		Set("state = ?", string(segment.StateQueued)).
		Set("retry_count = 0").
		Set("last_error = ''").
		Set("updated_at = NOW()").
		Where("id = ?", segmentID.String()).
		Where("state = ?", string(segment.StateFailed)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: retry segment: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.segmentMiss(ctx, segmentID)
	}
	return nil
}

// UpdateSegmentArtifacts stores stage outputs without touching state.
// Only set fields are written, so concurrent stages never erase each
// other's artifacts.
func (s *Store) UpdateSegmentArtifacts(ctx context.Context, seg *segment.Segment) error {
	q := s.db.NewUpdate().
		TableExpr("segue_segments").
		Set("updated_at = NOW()").
		Where("id = ?", seg.ID.String())

	if seg.Chunks != nil {
		q = q.Set("chunks = ?", pgdialect.Array(seg.Chunks))
	}
	if seg.Script != "" {
		q = q.Set("script = ?", seg.Script)
	}
	if seg.AudioRef != "" {
		q = q.Set("audio_ref = ?", seg.AudioRef)
	}
	if seg.DurationSec != 0 {
		q = q.Set("duration_sec = ?", seg.DurationSec)
	}
	if seg.LoudnessLUFS != 0 {
		q = q.Set("loudness_lufs = ?", seg.LoudnessLUFS)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: update segment artifacts: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return segue.ErrSegmentNotFound
	}
	return nil
}

// ListSegmentsByState returns segments in the given state, oldest slot first.
func (s *Store) ListSegmentsByState(ctx context.Context, state segment.State, opts segment.ListOpts) ([]*segment.Segment, error) {
	var models []segmentModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state))

	if opts.Show != "" {
		q = q.Where("show = ?", opts.Show)
	}

	q = q.Order("slot_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("segue/bun: list segments: %w", err)
	}

	segments := make([]*segment.Segment, 0, len(models))
	for i := range models {
		seg, convErr := fromSegmentModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("segue/bun: list segments convert: %w", convErr)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// CountSegments returns the number of segments in the given state. An
// empty state counts all segments.
func (s *Store) CountSegments(ctx context.Context, state segment.State) (int64, error) {
	q := s.db.NewSelect().TableExpr("segue_segments")
	if state != "" {
		q = q.Where("state = ?", string(state))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("segue/bun: count segments: %w", err)
	}
	return int64(count), nil
}
