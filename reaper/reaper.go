// Package reaper reclaims jobs whose claim lease expired — the crash
// recovery path. A worker that dies mid-execution leaves its jobs in
// processing; the reaper returns them to the claimable pool or, when
// their attempt budget is spent, dead-letters them.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/queue"
)

// Reaper periodically scans for processing jobs with expired leases and
// resolves them. Safe to run on every node: the store resolves each
// expired job atomically, so concurrent reapers never double-process.
type Reaper struct {
	store     job.Store
	queue     *queue.Service
	hooks     *hook.Registry
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets how often the reaper scans for expired leases.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) { r.interval = d }
}

// WithBatchSize caps how many expired jobs are resolved per scan.
func WithBatchSize(n int) Option {
	return func(r *Reaper) { r.batchSize = n }
}

// New creates a Reaper.
func New(store job.Store, queueService *queue.Service, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		store:     store,
		queue:     queueService,
		hooks:     hooks,
		interval:  30 * time.Second,
		batchSize: 100,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the reap loop. It returns immediately.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop signals the reap loop to stop and waits for it to finish.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reap(context.Background())
		}
	}
}

// reap resolves one batch of expired jobs. The store already decided
// each job's fate atomically (requeued or terminally failed); the reaper
// handles the side effects — dead letter archiving and lifecycle hooks.
func (r *Reaper) reap(ctx context.Context) {
	reclaimed, err := r.store.ReclaimExpired(ctx, time.Now().UTC(), r.batchSize)
	if err != nil {
		r.logger.Error("lease reclaim scan failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range reclaimed {
		cause := j.LastError
		if cause == "" {
			cause = "claim lease expired"
		}

		if j.State == job.StateFailed {
			if dlErr := r.queue.DeadLetter(ctx, j, errors.New(cause)); dlErr != nil {
				r.logger.Error("failed to dead-letter reclaimed job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", dlErr.Error()),
				)
			}
			continue
		}

		r.hooks.EmitJobRetrying(ctx, j, j.AttemptCount, j.RunAt)
		r.logger.Info("reclaimed expired job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt_count", j.AttemptCount),
		)
	}
}
