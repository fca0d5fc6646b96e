package pipeline

import (
	"context"
	"log/slog"

	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// SegmentFailer is the extension binding job outcomes to segment state:
// when a stage job is dead-lettered, the owning segment is marked failed
// with the job's final error. From there only the manual retry revives it.
type SegmentFailer struct {
	segments segment.Store
	machine  *segment.Machine
	hooks    *hook.Registry
	logger   *slog.Logger
}

// NewSegmentFailer creates the dead-letter-to-failed bridge.
func NewSegmentFailer(segments segment.Store, machine *segment.Machine, hooks *hook.Registry, logger *slog.Logger) *SegmentFailer {
	return &SegmentFailer{segments: segments, machine: machine, hooks: hooks, logger: logger}
}

// Name implements hook.Extension.
func (f *SegmentFailer) Name() string { return "segment-failer" }

// OnJobDeadLettered marks the job's segment failed. Jobs without a
// segment association are ignored.
func (f *SegmentFailer) OnJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) error {
	if j.Segment.IsNil() {
		return nil
	}

	if err := f.machine.Fail(ctx, j.Segment, jobErr.Error()); err != nil {
		f.logger.Error("failed to mark segment failed after dead-lettered job",
			slog.String("segment_id", j.Segment.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if seg, err := f.segments.GetSegment(ctx, j.Segment); err == nil {
		f.hooks.EmitSegmentFailed(ctx, seg, jobErr.Error())
	}
	return nil
}
