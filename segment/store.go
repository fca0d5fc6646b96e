package segment

import (
	"context"

	"github.com/onairlab/segue/id"
)

// ListOpts controls pagination and filtering for segment list queries.
type ListOpts struct {
	// Limit is the maximum number of segments to return. Zero means no limit.
	Limit int
	// Offset is the number of segments to skip.
	Offset int
	// Show filters by show name. Empty means all shows.
	Show string
}

// Store defines the persistence contract for segments. TransitionSegment,
// MarkSegmentFailed and RetrySegment are compare-and-swap operations: the
// state check and the write happen as one indivisible unit.
type Store interface {
	// CreateSegment persists a new segment in queued state. Fails with
	// segue.ErrSegmentAlreadyExists when the ID or idempotency key is
	// already taken.
	CreateSegment(ctx context.Context, s *Segment) error

	// GetSegment retrieves a segment by ID.
	GetSegment(ctx context.Context, segmentID id.SegmentID) (*Segment, error)

	// GetSegmentByIdempotencyKey retrieves a segment by its dedup key.
	GetSegmentByIdempotencyKey(ctx context.Context, key string) (*Segment, error)

	// TransitionSegment moves a segment from expectedFrom to to iff its
	// current state equals expectedFrom; otherwise it fails with
	// segue.ErrStateConflict and changes nothing.
	TransitionSegment(ctx context.Context, segmentID id.SegmentID, expectedFrom, to State) error

	// MarkSegmentFailed moves any non-terminal segment to failed,
	// records cause as the last error and increments the retry counter.
	// Already-failed segments are left unchanged.
	MarkSegmentFailed(ctx context.Context, segmentID id.SegmentID, cause string) error

	// RetrySegment moves a failed segment back to queued, resetting the
	// retry counter to zero and clearing the last error. Fails with
	// segue.ErrStateConflict when the segment is not in failed state.
	RetrySegment(ctx context.Context, segmentID id.SegmentID) error

	// UpdateSegmentArtifacts stores stage outputs (script, audio
	// reference, duration, loudness) without touching the state fields.
	UpdateSegmentArtifacts(ctx context.Context, s *Segment) error

	// ListSegmentsByState returns segments matching the given state.
	ListSegmentsByState(ctx context.Context, state State, opts ListOpts) ([]*Segment, error)

	// CountSegments returns the number of segments in the given state.
	// An empty state counts all segments.
	CountSegments(ctx context.Context, state State) (int64, error)
}
