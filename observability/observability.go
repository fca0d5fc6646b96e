// Package observability provides the station's structured logger, the
// Prometheus metrics extension, and the /metrics endpoint.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_jobs_enqueued_total",
		Help: "The total number of enqueued jobs",
	}, []string{"type"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_jobs_processed_total",
		Help: "The total number of processed jobs",
	}, []string{"type", "status"}) // status: completed, retried, failed, dead_lettered

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segue_job_duration_seconds",
		Help:    "Duration from claim to completion.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"type"})

	segmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_segment_transitions_total",
		Help: "The total number of segment state transitions",
	}, []string{"from", "to"})

	segmentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_segments_failed_total",
		Help: "The total number of segments entering the failed state",
	}, []string{"show"})

	slotsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_slots_fired_total",
		Help: "The total number of schedule slot fires",
	}, []string{"slot"})
)

// NewLogger creates the station's structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server exposing Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

// Metrics is the extension recording job and segment lifecycle counters.
// Register it on the hook registry.
type Metrics struct{}

// NewMetrics creates the metrics extension.
func NewMetrics() *Metrics { return &Metrics{} }

// Name implements hook.Extension.
func (m *Metrics) Name() string { return "prometheus-metrics" }

// OnJobEnqueued counts enqueues by type.
func (m *Metrics) OnJobEnqueued(_ context.Context, j *job.Job) error {
	jobsEnqueued.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobCompleted counts completions and observes claim-to-done latency.
func (m *Metrics) OnJobCompleted(_ context.Context, j *job.Job) error {
	jobsProcessed.WithLabelValues(j.Type, "completed").Inc()
	if j.ClaimedAt != nil {
		jobDuration.WithLabelValues(j.Type).Observe(time.Since(*j.ClaimedAt).Seconds())
	}
	return nil
}

// OnJobRetrying counts scheduled retries.
func (m *Metrics) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	jobsProcessed.WithLabelValues(j.Type, "retried").Inc()
	return nil
}

// OnJobFailed counts terminal failures.
func (m *Metrics) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	jobsProcessed.WithLabelValues(j.Type, "failed").Inc()
	return nil
}

// OnJobDeadLettered counts dead letter archivals.
func (m *Metrics) OnJobDeadLettered(_ context.Context, j *job.Job, _ error) error {
	jobsProcessed.WithLabelValues(j.Type, "dead_lettered").Inc()
	return nil
}

// OnSegmentTransitioned counts pipeline edges.
func (m *Metrics) OnSegmentTransitioned(_ context.Context, _ *segment.Segment, from, to segment.State) error {
	segmentTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// OnSegmentFailed counts failed segments by show.
func (m *Metrics) OnSegmentFailed(_ context.Context, seg *segment.Segment, _ string) error {
	segmentsFailed.WithLabelValues(seg.Show).Inc()
	return nil
}

// OnScheduleFired counts slot fires.
func (m *Metrics) OnScheduleFired(_ context.Context, slotName string, _ id.SegmentID) error {
	slotsFired.WithLabelValues(slotName).Inc()
	return nil
}
