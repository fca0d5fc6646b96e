package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
)

// next is the pipeline's fixed transition graph. Failed and the manual
// retry edge are handled separately: failure is legal from every
// non-terminal state, and failed→queued only through Machine.Retry.
var next = map[State]State{
	StateQueued:      StateRetrieving,
	StateRetrieving:  StateGenerating,
	StateGenerating:  StateRendering,
	StateRendering:   StateNormalizing,
	StateNormalizing: StateReady,
	StateReady:       StateAiring,
	StateAiring:      StateAired,
	StateAired:       StateArchived,
}

// CanTransition reports whether from→to is a legal pipeline edge.
// A transition to failed is legal from any state except archived.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateArchived && from != StateFailed
	}
	return next[from] == to
}

// Machine applies guarded transitions against a Store. It holds no state
// of its own; all coordination happens through the store's compare-and-swap.
type Machine struct {
	store  Store
	logger *slog.Logger
}

// NewMachine creates a Machine over the given store.
func NewMachine(store Store, logger *slog.Logger) *Machine {
	return &Machine{store: store, logger: logger}
}

// Transition advances a segment from the expected state to the next one.
// It fails with segue.ErrStateConflict when the segment's actual state
// differs from expectedFrom — the optimistic-concurrency guard that makes
// a re-delivered stage completion harmless.
func (m *Machine) Transition(ctx context.Context, segmentID id.SegmentID, expectedFrom, to State) error {
	if !CanTransition(expectedFrom, to) {
		return fmt.Errorf("segue: illegal segment transition %s → %s", expectedFrom, to)
	}

	if to == StateFailed {
		return m.store.MarkSegmentFailed(ctx, segmentID, "")
	}

	if err := m.store.TransitionSegment(ctx, segmentID, expectedFrom, to); err != nil {
		return err
	}

	m.logger.Info("segment transitioned",
		slog.String("segment_id", segmentID.String()),
		slog.String("from", string(expectedFrom)),
		slog.String("to", string(to)),
	)
	return nil
}

// Fail moves a segment to failed from any non-terminal state, recording
// the error and incrementing the retry counter.
func (m *Machine) Fail(ctx context.Context, segmentID id.SegmentID, cause string) error {
	if err := m.store.MarkSegmentFailed(ctx, segmentID, cause); err != nil {
		return err
	}

	m.logger.Warn("segment failed",
		slog.String("segment_id", segmentID.String()),
		slog.String("error", cause),
	)
	return nil
}

// Retry is the explicit manual-retry action: failed → queued, with the
// retry counter reset to zero and the last error cleared. It is distinct
// from the generic pipeline transitions and the only way out of failed.
func (m *Machine) Retry(ctx context.Context, segmentID id.SegmentID) error {
	if err := m.store.RetrySegment(ctx, segmentID); err != nil {
		return err
	}

	m.logger.Info("segment manually retried",
		slog.String("segment_id", segmentID.String()),
	)
	return nil
}

// IsConflict reports whether err is the harmless duplicate-delivery guard.
func IsConflict(err error) bool {
	return errors.Is(err, segue.ErrStateConflict)
}
