package dlq_test

import (
	"context"
	"testing"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/store/memory"
)

func newFailedJob() *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:       segue.NewEntity(),
		ID:           id.NewJobID(),
		Type:         "segment.synthesize",
		Payload:      []byte(`{"segment_id":"seg_01h455vb4pex5vsknk084sn02q"}`),
		State:        job.StateFailed,
		Segment:      id.NewSegmentID(),
		MaxAttempts:  3,
		AttemptCount: 3,
		LastError:    "speech service returned 500",
		Attempts: []job.Attempt{
			{Number: 1, Error: "speech service returned 500", FailedAt: now},
			{Number: 2, Error: "speech service returned 500", FailedAt: now},
			{Number: 3, Error: "speech service returned 500", FailedAt: now},
		},
	}
}

func TestPushSnapshotsTheJob(t *testing.T) {
	t.Parallel()
	store := memory.New()
	svc := dlq.NewService(store, store)
	ctx := context.Background()

	j := newFailedJob()
	if err := svc.Push(ctx, j); err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	e := entries[0]
	if e.JobID != j.ID || e.JobType != j.Type || e.Segment != j.Segment {
		t.Fatalf("entry = %+v", e)
	}
	if string(e.PayloadSnapshot) != string(j.Payload) {
		t.Fatalf("payload snapshot = %s", e.PayloadSnapshot)
	}
	if e.Reason != j.LastError || e.AttemptCount != 3 || len(e.AttemptHistory) != 3 {
		t.Fatalf("entry = %+v", e)
	}
	if e.ReplayedAt != nil {
		t.Fatal("fresh entry already marked replayed")
	}
}

func TestReplayCreatesFreshJob(t *testing.T) {
	t.Parallel()
	store := memory.New()
	svc := dlq.NewService(store, store)
	ctx := context.Background()

	original := newFailedJob()
	if err := svc.Push(ctx, original); err != nil {
		t.Fatal(err)
	}
	entries, _ := store.ListDLQ(ctx, dlq.ListOpts{})
	entry := entries[0]

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// A fresh identity with a clean attempt budget, same payload and
	// segment binding.
	if replayed.ID == original.ID {
		t.Fatal("replayed job reuses the dead job's ID")
	}
	if replayed.State != job.StatePending || replayed.AttemptCount != 0 || len(replayed.Attempts) != 0 {
		t.Fatalf("replayed = %+v", replayed)
	}
	if string(replayed.Payload) != string(original.Payload) || replayed.Segment != original.Segment {
		t.Fatalf("replayed = %+v", replayed)
	}
	if replayed.MaxAttempts != original.MaxAttempts {
		t.Fatalf("max attempts = %d, want %d", replayed.MaxAttempts, original.MaxAttempts)
	}

	stored, err := store.GetJob(ctx, replayed.ID)
	if err != nil || stored.State != job.StatePending {
		t.Fatalf("stored replay = (%+v, %v)", stored, err)
	}

	marked, err := store.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if marked.ReplayedAt == nil {
		t.Fatal("entry not marked replayed")
	}
}

func TestReplayMissingEntry(t *testing.T) {
	t.Parallel()
	svc := dlq.NewService(memory.New(), memory.New())

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if err == nil {
		t.Fatal("replay of a missing entry succeeded")
	}
}
