package job

import "time"

// Options configures per-job behavior such as attempts, priority and lease.
type Options struct {
	// MaxAttempts is the number of failed attempts tolerated before the
	// job is archived to the dead letter store.
	MaxAttempts int

	// Priority determines claim ordering. Higher values are claimed first.
	Priority int

	// Timeout is the maximum duration a handler may run before its
	// context is cancelled.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// Segment associates the job with a pipeline segment.
	Segment SegmentRef
}

// SegmentRef carries the optional segment association as a plain string to
// keep Options free of id parsing at call sites.
type SegmentRef string

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Priority:    0,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxAttempts sets the failed-attempt budget before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithSegment associates the job with a segment by its string ID.
func WithSegment(segmentID string) Option {
	return func(o *Options) {
		o.Segment = SegmentRef(segmentID)
	}
}
