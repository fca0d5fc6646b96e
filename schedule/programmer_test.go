package schedule

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/segment"
	"github.com/onairlab/segue/store/memory"
)

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	slotAt := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	if got := IdempotencyKey("morning-news", slotAt); got != "morning-news@2026-03-14T06:00:00Z" {
		t.Fatalf("key = %q", got)
	}

	// Non-UTC inputs normalize to the same key.
	loc := time.FixedZone("CET", 3600)
	if got := IdempotencyKey("morning-news", slotAt.In(loc)); got != "morning-news@2026-03-14T06:00:00Z" {
		t.Fatalf("non-UTC key = %q", got)
	}
}

func TestAddSlotRejectsBadSpec(t *testing.T) {
	t.Parallel()
	p := NewProgrammer(memory.New(), nil, hook.NewRegistry(slog.Default()), slog.Default())

	if err := p.AddSlot(Slot{Name: "bad", Show: "x", Spec: "not a cron line"}); err == nil {
		t.Fatal("bad cron spec accepted")
	}
	if err := p.AddSlot(Slot{Name: "good", Show: "x", Spec: "50 5 * * *"}); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}

type startRecorder struct {
	mu      sync.Mutex
	started []id.SegmentID
}

func (r *startRecorder) start(_ context.Context, seg *segment.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, seg.ID)
	return nil
}

func TestFireCreatesSegmentOnce(t *testing.T) {
	t.Parallel()
	store := memory.New()
	rec := &startRecorder{}
	p := NewProgrammer(store, rec.start, hook.NewRegistry(slog.Default()), slog.Default(),
		WithDefaultMaxRetries(5),
	)
	ctx := context.Background()

	slot := Slot{
		Name:  "morning-news",
		Show:  "morning-news",
		Title: "Morning briefing",
		Spec:  "50 5 * * *",
		Lead:  10 * time.Minute,
	}

	p.fire(ctx, slot)
	p.fire(ctx, slot) // a re-fire within the same minute dedupes

	segments, err := store.ListSegmentsByState(ctx, segment.StateQueued, segment.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 {
		t.Fatalf("segments produced = %d, want 1", len(segments))
	}

	seg := segments[0]
	if seg.Show != "morning-news" || seg.Title != "Morning briefing" {
		t.Fatalf("segment = %+v", seg)
	}
	if seg.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want the programmer default", seg.MaxRetries)
	}
	if seg.IdempotencyKey != IdempotencyKey(seg.Show, seg.SlotAt) {
		t.Fatalf("idempotency key = %q", seg.IdempotencyKey)
	}

	// The broadcast slot sits Lead ahead of the fire, on a whole minute.
	if seg.SlotAt.Second() != 0 || seg.SlotAt.Nanosecond() != 0 {
		t.Fatalf("slot_at not truncated: %v", seg.SlotAt)
	}
	lead := time.Until(seg.SlotAt)
	if lead < 8*time.Minute || lead > 11*time.Minute {
		t.Fatalf("slot lead = %v, want ~10m", lead)
	}

	// Only the winning fire started the pipeline.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.started) != 1 || rec.started[0] != seg.ID {
		t.Fatalf("pipeline starts = %v", rec.started)
	}
}

func TestSlotMaxRetriesOverride(t *testing.T) {
	t.Parallel()
	store := memory.New()
	rec := &startRecorder{}
	p := NewProgrammer(store, rec.start, hook.NewRegistry(slog.Default()), slog.Default())
	ctx := context.Background()

	p.fire(ctx, Slot{
		Name:       "late-show",
		Show:       "late-show",
		Spec:       "0 22 * * *",
		MaxRetries: 7,
	})

	segments, err := store.ListSegmentsByState(ctx, segment.StateQueued, segment.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 || segments[0].MaxRetries != 7 {
		t.Fatalf("segments = %+v", segments)
	}
}
