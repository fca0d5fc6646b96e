package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/queue"
)

// TypeLimiter bounds per-job-type throughput. The pool calls Acquire
// after claiming a job and Release once execution finishes.
type TypeLimiter interface {
	// Acquire returns true if a job of this type may execute now.
	Acquire(jobType string) bool
	// Release decrements the active count for the job type.
	Release(jobType string)
}

// Pool manages a set of concurrent worker goroutines that claim jobs
// from the store and execute them through the Executor. Each pool holds
// a single worker identity: every claim it makes is leased to that
// identity, and the lease renewal loop keeps long-running jobs owned.
type Pool struct {
	queue        *queue.Service
	executor     *Executor
	hooks        *hook.Registry
	concurrency  int
	jobTypes     []string
	pollInterval time.Duration
	lease        time.Duration
	renewEvery   time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Per-job-type limiter (optional).
	limiter TypeLimiter

	stopCh     chan struct{}
	nudgeCh    chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolJobTypes restricts the pool to claiming the given job types.
// Empty means all types.
func WithPoolJobTypes(types []string) PoolOption {
	return func(p *Pool) { p.jobTypes = types }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLease sets the claim lease duration. A worker that dies holds its
// jobs for at most this long before the reaper reclaims them.
func WithLease(d time.Duration) PoolOption {
	return func(p *Pool) { p.lease = d }
}

// WithLeaseRenewal sets how often the pool renews leases for active
// jobs. Must be well under the lease duration. Zero disables renewal,
// in which case jobs running past the lease are reclaimed mid-flight.
func WithLeaseRenewal(d time.Duration) PoolOption {
	return func(p *Pool) { p.renewEvery = d }
}

// WithLimiter sets the per-job-type limiter.
func WithLimiter(l TypeLimiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(
	queueService *queue.Service,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:        queueService,
		executor:     executor,
		hooks:        hooks,
		concurrency:  8,
		pollInterval: time.Second,
		lease:        2 * time.Minute,
		renewEvery:   30 * time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		nudgeCh:      make(chan struct{}, 1),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Nudge wakes one idle worker ahead of its next poll. Safe to call from
// any goroutine; a nudge to a busy pool is dropped.
func (p *Pool) Nudge() {
	select {
	case p.nudgeCh <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("job_types", p.jobTypes),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.renewEvery > 0 {
		p.wg.Add(1)
		go p.renewLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.queue.Claim(context.Background(), p.workerID, p.jobTypes, p.lease)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if j == nil {
			p.sleep()
			continue
		}

		// Check the per-type limit. A rejected job goes back to pending
		// without burning an attempt, eligible again after a short delay.
		if p.limiter != nil && !p.limiter.Acquire(j.Type) {
			runAt := time.Now().UTC().Add(p.pollInterval)
			if relErr := p.queue.Store().ReleaseJob(context.Background(), j.ID, p.workerID, runAt); relErr != nil {
				p.logger.Error("failed to release rate-limited job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.hooks.EmitJobStarted(context.Background(), j)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, j); execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		if p.limiter != nil {
			p.limiter.Release(j.Type)
		}
	}
}

// renewLoop periodically extends the lease for all active jobs so that
// long-running handlers are not reclaimed mid-flight.
func (p *Pool) renewLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.renewLeases()
		}
	}
}

func (p *Pool) renewLeases() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("lease renewal: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.queue.Store().RenewLease(context.Background(), parsedID, p.workerID, p.lease); err != nil {
			p.logger.Warn("lease renewal failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sleep waits for the poll interval, an enqueue nudge, or shutdown,
// whichever comes first.
func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.nudgeCh:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
