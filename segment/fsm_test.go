package segment_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/segment"
	"github.com/onairlab/segue/store/memory"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from segment.State
		to   segment.State
		want bool
	}{
		{"queued to retrieving", segment.StateQueued, segment.StateRetrieving, true},
		{"retrieving to generating", segment.StateRetrieving, segment.StateGenerating, true},
		{"generating to rendering", segment.StateGenerating, segment.StateRendering, true},
		{"rendering to normalizing", segment.StateRendering, segment.StateNormalizing, true},
		{"normalizing to ready", segment.StateNormalizing, segment.StateReady, true},
		{"ready to airing", segment.StateReady, segment.StateAiring, true},
		{"airing to aired", segment.StateAiring, segment.StateAired, true},
		{"aired to archived", segment.StateAired, segment.StateArchived, true},
		{"skip a stage", segment.StateQueued, segment.StateGenerating, false},
		{"backwards", segment.StateGenerating, segment.StateRetrieving, false},
		{"out of archived", segment.StateArchived, segment.StateAiring, false},
		{"fail from queued", segment.StateQueued, segment.StateFailed, true},
		{"fail from airing", segment.StateAiring, segment.StateFailed, true},
		{"fail from archived", segment.StateArchived, segment.StateFailed, false},
		{"fail from failed", segment.StateFailed, segment.StateFailed, false},
		{"failed to queued is not a pipeline edge", segment.StateFailed, segment.StateQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := segment.CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func newTestSegment() *segment.Segment {
	return &segment.Segment{
		Entity:         segue.NewEntity(),
		ID:             id.NewSegmentID(),
		Show:           "morning-news",
		State:          segment.StateQueued,
		SlotAt:         time.Now().UTC().Add(time.Hour),
		IdempotencyKey: id.NewSegmentID().String(),
		MaxRetries:     3,
	}
}

func TestMachineTransition(t *testing.T) {
	t.Parallel()
	store := memory.New()
	m := segment.NewMachine(store, slog.Default())
	ctx := context.Background()

	seg := newTestSegment()
	if err := store.CreateSegment(ctx, seg); err != nil {
		t.Fatal(err)
	}

	if err := m.Transition(ctx, seg.ID, segment.StateQueued, segment.StateRetrieving); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	// Duplicate delivery: the guard rejects, and IsConflict identifies it.
	err := m.Transition(ctx, seg.ID, segment.StateQueued, segment.StateRetrieving)
	if !segment.IsConflict(err) {
		t.Fatalf("duplicate transition = %v, want state conflict", err)
	}

	// Illegal edges never reach the store.
	if err := m.Transition(ctx, seg.ID, segment.StateRetrieving, segment.StateReady); err == nil {
		t.Fatal("illegal transition accepted")
	}
}

func TestMachineFailAndRetry(t *testing.T) {
	t.Parallel()
	store := memory.New()
	m := segment.NewMachine(store, slog.Default())
	ctx := context.Background()

	seg := newTestSegment()
	if err := store.CreateSegment(ctx, seg); err != nil {
		t.Fatal(err)
	}

	if err := m.Fail(ctx, seg.ID, "tts unreachable"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := store.GetSegment(ctx, seg.ID)
	if got.State != segment.StateFailed || got.LastError != "tts unreachable" {
		t.Fatalf("after fail: %+v", got)
	}

	if err := m.Retry(ctx, seg.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, _ = store.GetSegment(ctx, seg.ID)
	if got.State != segment.StateQueued || got.RetryCount != 0 || got.LastError != "" {
		t.Fatalf("after retry: %+v", got)
	}

	// Retry is only legal out of failed.
	if err := m.Retry(ctx, seg.ID); !errors.Is(err, segue.ErrStateConflict) {
		t.Fatalf("retry of queued segment = %v, want ErrStateConflict", err)
	}
}
