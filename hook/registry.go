package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type segmentTransitionedEntry struct {
	name string
	hook SegmentTransitioned
}

type segmentFailedEntry struct {
	name string
	hook SegmentFailed
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued         []jobEnqueuedEntry
	jobStarted          []jobStartedEntry
	jobCompleted        []jobCompletedEntry
	jobRetrying         []jobRetryingEntry
	jobFailed           []jobFailedEntry
	jobDeadLettered     []jobDeadLetteredEntry
	segmentTransitioned []segmentTransitionedEntry
	segmentFailed       []segmentFailedEntry
	scheduleFired       []scheduleFiredEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, h})
	}
	if h, ok := e.(SegmentTransitioned); ok {
		r.segmentTransitioned = append(r.segmentTransitioned, segmentTransitionedEntry{name, h})
	}
	if h, ok := e.(SegmentFailed); ok {
		r.segmentFailed = append(r.segmentFailed, segmentFailedEntry{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Segment event emitters
// ──────────────────────────────────────────────────

// EmitSegmentTransitioned notifies all extensions that implement SegmentTransitioned.
func (r *Registry) EmitSegmentTransitioned(ctx context.Context, seg *segment.Segment, from, to segment.State) {
	for _, e := range r.segmentTransitioned {
		if err := e.hook.OnSegmentTransitioned(ctx, seg, from, to); err != nil {
			r.logHookError("OnSegmentTransitioned", e.name, err)
		}
	}
}

// EmitSegmentFailed notifies all extensions that implement SegmentFailed.
func (r *Registry) EmitSegmentFailed(ctx context.Context, seg *segment.Segment, cause string) {
	for _, e := range r.segmentFailed {
		if err := e.hook.OnSegmentFailed(ctx, seg, cause); err != nil {
			r.logHookError("OnSegmentFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitScheduleFired notifies all extensions that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, slotName string, segmentID id.SegmentID) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, slotName, segmentID); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
