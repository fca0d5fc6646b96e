// Package hook defines the extension system for segue.
// Extensions are notified of lifecycle events (job enqueued, segment
// transitioned, job dead-lettered, etc.) and can react to them —
// logging, metrics, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDeadLettered is called when a job is archived to the dead letter
// store.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Segment lifecycle hooks
// ──────────────────────────────────────────────────

// SegmentTransitioned is called after a segment moves between pipeline
// states.
type SegmentTransitioned interface {
	OnSegmentTransitioned(ctx context.Context, seg *segment.Segment, from, to segment.State) error
}

// SegmentFailed is called when a segment enters the failed state.
type SegmentFailed interface {
	OnSegmentFailed(ctx context.Context, seg *segment.Segment, cause string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when the programmer creates a segment for a
// broadcast slot and enqueues its first pipeline job.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, slotName string, segmentID id.SegmentID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
