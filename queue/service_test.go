package queue_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/onairlab/segue/backoff"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/queue"
	"github.com/onairlab/segue/store/memory"
)

type stagePayload struct {
	SegmentID string `json:"segment_id"`
}

// recorder captures hook emissions for assertions.
type recorder struct {
	mu           sync.Mutex
	enqueued     []string
	completed    []string
	retrying     []string
	deadLettered []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobEnqueued(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, j.ID.String())
	return nil
}

func (r *recorder) OnJobCompleted(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, j.ID.String())
	return nil
}

func (r *recorder) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = append(r.retrying, j.ID.String())
	return nil
}

func (r *recorder) OnJobDeadLettered(_ context.Context, j *job.Job, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLettered = append(r.deadLettered, j.ID.String())
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Nudge(_ context.Context, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func newTestService(t *testing.T) (*queue.Service, *memory.Store, *recorder, *countingNotifier) {
	t.Helper()
	store := memory.New()
	registry := job.NewRegistry()
	job.RegisterDefinition(registry, job.NewDefinition("segment.retrieve",
		func(_ context.Context, _ stagePayload) (any, error) { return nil, nil },
		job.WithMaxAttempts(2),
	))

	rec := &recorder{}
	hooks := hook.NewRegistry(slog.Default())
	hooks.Register(rec)

	notifier := &countingNotifier{}
	svc := queue.NewService(store, registry, dlq.NewService(store, store), hooks, slog.Default(),
		queue.WithNotifier(notifier),
		queue.WithBackoff(backoff.NewConstant(time.Second)),
	)
	return svc, store, rec, notifier
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	svc, store, rec, notifier := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		jobType string
		payload string
		opts    []job.Option
		wantErr bool
	}{
		{"valid", "segment.retrieve", `{"segment_id":"seg_01h455vb4pex5vsknk084sn02q"}`, nil, false},
		{"unknown type", "nope", `{}`, nil, true},
		{"schema mismatch", "segment.retrieve", `{"bogus":true}`, nil, true},
		{"bad segment ref", "segment.retrieve", `{}`, []job.Option{job.WithSegment("not-an-id")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := svc.Enqueue(ctx, tt.jobType, []byte(tt.payload), tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Enqueue error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if j.State != job.StatePending || j.MaxAttempts != 2 {
				t.Fatalf("enqueued job = %+v", j)
			}
		})
	}

	// Only the valid enqueue reached the store, the hook, and the notifier.
	count, _ := store.CountJobs(ctx, job.CountOpts{})
	if count != 1 {
		t.Fatalf("store holds %d jobs, want 1", count)
	}
	if len(rec.enqueued) != 1 {
		t.Fatalf("enqueued hook fired %d times, want 1", len(rec.enqueued))
	}
	if notifier.count != 1 {
		t.Fatalf("notifier nudged %d times, want 1", notifier.count)
	}
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	svc, store, rec, _ := newTestService(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j, err := svc.Enqueue(ctx, "segment.retrieve", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}

	// Attempt 1 of 2: fails retryable → back to pending with a delay.
	claimed, err := svc.Claim(ctx, worker, nil, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}
	if err := svc.Fail(ctx, claimed, errors.New("upstream 503"), true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := store.GetJob(ctx, j.ID)
	if got.State != job.StatePending || got.AttemptCount != 1 {
		t.Fatalf("after first fail: state=%q attempts=%d", got.State, got.AttemptCount)
	}
	if !got.RunAt.After(time.Now().UTC().Add(500 * time.Millisecond)) {
		t.Fatalf("retry not delayed: run_at=%v", got.RunAt)
	}
	if len(rec.retrying) != 1 {
		t.Fatalf("retrying hook fired %d times, want 1", len(rec.retrying))
	}

	// Attempt 2 of 2: budget exhausted → dead letter.
	claimed2 := claimAfterBackoff(t, svc, worker)
	if err := svc.Fail(ctx, claimed2, errors.New("upstream 503"), true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	final, _ := store.GetJob(ctx, j.ID)
	if final.State != job.StateFailed || final.AttemptCount != 2 {
		t.Fatalf("after terminal fail: state=%q attempts=%d", final.State, final.AttemptCount)
	}

	entries, err := store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead letter store holds %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.JobID != j.ID || e.AttemptCount != 2 || len(e.AttemptHistory) != 2 {
		t.Fatalf("entry = %+v", e)
	}
	if len(rec.deadLettered) != 1 {
		t.Fatalf("dead-lettered hook fired %d times, want 1", len(rec.deadLettered))
	}
}

// claimAfterBackoff waits out the constant 1s test backoff and claims
// the requeued job. A claim before the delay elapses must come up empty.
func claimAfterBackoff(t *testing.T, svc *queue.Service, worker id.WorkerID) *job.Job {
	t.Helper()
	ctx := context.Background()

	// The backoff delay gates visibility.
	claimed, err := svc.Claim(ctx, worker, nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Fatalf("claimed %s before its backoff elapsed", claimed.ID)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		claimed, err = svc.Claim(ctx, worker, nil, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if claimed != nil {
			return claimed
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("job never became claimable after backoff")
	return nil
}

func TestFailWithoutRetry(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j, err := svc.Enqueue(ctx, "segment.retrieve", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := svc.Claim(ctx, worker, nil, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}

	// A permanent failure skips the remaining budget entirely.
	if err := svc.Fail(ctx, claimed, errors.New("payload invalid"), false); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetJob(ctx, j.ID)
	if got.State != job.StateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	n, _ := store.CountDLQ(ctx)
	if n != 1 {
		t.Fatalf("dead letter count = %d, want 1", n)
	}
}

func TestCompleteIdempotentAndStale(t *testing.T) {
	t.Parallel()
	svc, store, rec, _ := newTestService(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	_, err := svc.Enqueue(ctx, "segment.retrieve", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := svc.Claim(ctx, worker, nil, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}

	if err := svc.Complete(ctx, claimed, []byte(`"ok"`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ := store.GetJob(ctx, claimed.ID)
	if got.State != job.StateCompleted {
		t.Fatalf("state = %q, want completed", got.State)
	}
	if len(rec.completed) != 1 {
		t.Fatalf("completed hook fired %d times, want 1", len(rec.completed))
	}

	// Duplicate completion is accepted without error.
	if err := svc.Complete(ctx, claimed, []byte(`"ok"`)); err != nil {
		t.Fatalf("duplicate Complete: %v", err)
	}

	// A worker that lost its claim is dropped silently.
	stale := *claimed
	stale.ClaimedBy = id.NewWorkerID()
	if err := svc.Complete(ctx, &stale, nil); err != nil {
		t.Fatalf("stale Complete: %v", err)
	}
}
