// Package schedule drives segment production from the broadcast grid.
// The Programmer turns cron-shaped slot definitions into segments: when
// a slot fires it creates the segment (deduplicated by show + slot
// timestamp) and enqueues the first pipeline job.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/segment"
)

// Slot defines a recurring broadcast slot on the station grid.
type Slot struct {
	// Name identifies the slot in logs and hooks, e.g. "morning-news".
	Name string

	// Show is the show the produced segments belong to.
	Show string

	// Title is the display title applied to produced segments.
	Title string

	// Spec is a standard 5-field cron expression for when production
	// starts, e.g. "50 5 * * *" to produce ahead of a 6:00 slot.
	Spec string

	// Lead is how far production runs ahead of air time: the segment's
	// broadcast slot is the fire time plus Lead.
	Lead time.Duration

	// MaxRetries overrides the pipeline retry budget for this slot's
	// segments. Zero uses the default.
	MaxRetries int
}

// StartFunc enqueues the first pipeline job for a freshly created
// segment. Wired to the pipeline's entry stage by the engine.
type StartFunc func(ctx context.Context, seg *segment.Segment) error

// Programmer schedules segment production from slot definitions.
type Programmer struct {
	cron     *cron.Cron
	segments segment.Store
	start    StartFunc
	hooks    *hook.Registry
	logger   *slog.Logger

	defaultMaxRetries int
}

// Option configures a Programmer.
type Option func(*Programmer)

// WithDefaultMaxRetries sets the retry budget applied to segments whose
// slot does not override it.
func WithDefaultMaxRetries(n int) Option {
	return func(p *Programmer) { p.defaultMaxRetries = n }
}

// NewProgrammer creates a Programmer. Slots are added with AddSlot and
// begin firing after Start.
func NewProgrammer(segments segment.Store, start StartFunc, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Programmer {
	p := &Programmer{
		cron:              cron.New(),
		segments:          segments,
		start:             start,
		hooks:             hooks,
		logger:            logger,
		defaultMaxRetries: 3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddSlot registers a slot on the grid. Returns an error if the cron
// spec does not parse.
func (p *Programmer) AddSlot(slot Slot) error {
	_, err := p.cron.AddFunc(slot.Spec, func() {
		p.fire(context.Background(), slot)
	})
	if err != nil {
		return fmt.Errorf("schedule: slot %q: %w", slot.Name, err)
	}
	return nil
}

// Start begins firing slots. It returns immediately.
func (p *Programmer) Start(_ context.Context) error {
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for in-flight fires to finish.
func (p *Programmer) Stop(ctx context.Context) error {
	stopped := p.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fire produces one segment for a slot occurrence. The idempotency key
// (show + slot timestamp) makes re-fires harmless: a duplicate create is
// detected and skipped, so a restarted node never double-produces.
func (p *Programmer) fire(ctx context.Context, slot Slot) {
	now := time.Now().UTC()
	slotAt := now.Add(slot.Lead).Truncate(time.Minute)

	seg := &segment.Segment{
		Entity:         segue.NewEntity(),
		ID:             id.NewSegmentID(),
		Show:           slot.Show,
		Title:          slot.Title,
		State:          segment.StateQueued,
		SlotAt:         slotAt,
		IdempotencyKey: IdempotencyKey(slot.Show, slotAt),
		MaxRetries:     slot.MaxRetries,
	}
	if seg.MaxRetries == 0 {
		seg.MaxRetries = p.defaultMaxRetries
	}

	if err := p.segments.CreateSegment(ctx, seg); err != nil {
		if errors.Is(err, segue.ErrSegmentAlreadyExists) {
			p.logger.Debug("slot already produced",
				slog.String("slot", slot.Name),
				slog.Time("slot_at", slotAt),
			)
			return
		}
		p.logger.Error("failed to create segment for slot",
			slog.String("slot", slot.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.start(ctx, seg); err != nil {
		p.logger.Error("failed to start pipeline for slot",
			slog.String("slot", slot.Name),
			slog.String("segment_id", seg.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	p.hooks.EmitScheduleFired(ctx, slot.Name, seg.ID)
	p.logger.Info("slot fired",
		slog.String("slot", slot.Name),
		slog.String("segment_id", seg.ID.String()),
		slog.Time("slot_at", slotAt),
	)
}

// IdempotencyKey derives the dedup key for a show's slot occurrence.
func IdempotencyKey(show string, slotAt time.Time) string {
	return fmt.Sprintf("%s@%s", show, slotAt.UTC().Format(time.RFC3339))
}
