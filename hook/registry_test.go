package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// jobWatcher implements a subset of the job hooks.
type jobWatcher struct {
	enqueued  int
	completed int
	err       error
}

func (w *jobWatcher) Name() string { return "job-watcher" }

func (w *jobWatcher) OnJobEnqueued(context.Context, *job.Job) error {
	w.enqueued++
	return w.err
}

func (w *jobWatcher) OnJobCompleted(context.Context, *job.Job) error {
	w.completed++
	return w.err
}

// segmentWatcher implements only segment hooks.
type segmentWatcher struct {
	transitions []string
	failures    []string
}

func (w *segmentWatcher) Name() string { return "segment-watcher" }

func (w *segmentWatcher) OnSegmentTransitioned(_ context.Context, _ *segment.Segment, from, to segment.State) error {
	w.transitions = append(w.transitions, string(from)+">"+string(to))
	return nil
}

func (w *segmentWatcher) OnSegmentFailed(_ context.Context, _ *segment.Segment, cause string) error {
	w.failures = append(w.failures, cause)
	return nil
}

func TestRegistryDispatchesByImplementedHook(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(slog.Default())
	jw := &jobWatcher{}
	sw := &segmentWatcher{}
	r.Register(jw)
	r.Register(sw)
	ctx := context.Background()

	j := &job.Job{ID: id.NewJobID(), Type: "segment.retrieve"}
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobCompleted(ctx, j)
	// Neither extension implements JobRetrying; the emit is a no-op.
	r.EmitJobRetrying(ctx, j, 1, time.Now())

	if jw.enqueued != 1 || jw.completed != 1 {
		t.Fatalf("job watcher = %+v", jw)
	}

	seg := &segment.Segment{ID: id.NewSegmentID(), State: segment.StateRetrieving}
	r.EmitSegmentTransitioned(ctx, seg, segment.StateQueued, segment.StateRetrieving)
	r.EmitSegmentFailed(ctx, seg, "tts unreachable")

	if len(sw.transitions) != 1 || sw.transitions[0] != "queued>retrieving" {
		t.Fatalf("transitions = %v", sw.transitions)
	}
	if len(sw.failures) != 1 || sw.failures[0] != "tts unreachable" {
		t.Fatalf("failures = %v", sw.failures)
	}

	// Job events never reached the segment watcher and vice versa.
	if len(r.Extensions()) != 2 {
		t.Fatalf("extensions = %d", len(r.Extensions()))
	}
}

func TestRegistryHookErrorsDoNotPropagate(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(slog.Default())
	broken := &jobWatcher{err: errors.New("webhook down")}
	healthy := &jobWatcher{}
	r.Register(broken)
	r.Register(healthy)

	// The failing extension is logged and skipped; later extensions
	// still run.
	r.EmitJobEnqueued(context.Background(), &job.Job{ID: id.NewJobID()})

	if broken.enqueued != 1 || healthy.enqueued != 1 {
		t.Fatalf("broken=%d healthy=%d, want both notified", broken.enqueued, healthy.enqueued)
	}
}

type shutdownWatcher struct {
	called bool
}

func (w *shutdownWatcher) Name() string { return "shutdown-watcher" }

func (w *shutdownWatcher) OnShutdown(context.Context) error {
	w.called = true
	return nil
}

func TestRegistryShutdown(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(slog.Default())
	w := &shutdownWatcher{}
	r.Register(w)

	r.EmitShutdown(context.Background())
	if !w.called {
		t.Fatal("shutdown hook not invoked")
	}
}
