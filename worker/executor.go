// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and classifies the
// outcome, and a Pool that manages concurrent worker goroutines claiming
// jobs from the store.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/middleware"
	"github.com/onairlab/segue/queue"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then reports the outcome to the queue service,
// which owns the retry-or-dead-letter decision.
type Executor struct {
	registry *job.Registry
	queue    *queue.Service
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	queueService *queue.Service,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		queue:    queueService,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a claimed job through the middleware chain and handler.
// On success it reports completion. On failure it classifies the error:
// permanent failures (including payload validation errors) skip the
// remaining retry budget, everything else — timeouts, network errors,
// upstream 5xx — is reported as retryable.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// A claimed job with no handler cannot make progress on this
		// worker, and retrying elsewhere will hit the same registry.
		err := fmt.Errorf("%w: %q", segue.ErrUnknownJobType, j.Type)
		return e.queue.Fail(ctx, j, err, false)
	}

	var result []byte
	terminal := func(ctx context.Context) error {
		r, err := handler(ctx, j.Payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	if err := e.mw(ctx, j, terminal); err != nil {
		retryable := !segue.IsPermanent(err)
		if !retryable {
			e.logger.Warn("permanent job failure, skipping retries",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", err.Error()),
			)
		}
		return e.queue.Fail(ctx, j, err, retryable)
	}

	return e.queue.Complete(ctx, j, result)
}
