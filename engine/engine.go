// Package engine assembles a complete segue deployment from its
// subsystems: store, queue service, worker pool, reaper, programmer and
// pipeline. Build wires everything; Run drives the lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/backoff"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/middleware"
	"github.com/onairlab/segue/notify"
	"github.com/onairlab/segue/observability"
	"github.com/onairlab/segue/pipeline"
	"github.com/onairlab/segue/queue"
	"github.com/onairlab/segue/reaper"
	"github.com/onairlab/segue/schedule"
	"github.com/onairlab/segue/segment"
	"github.com/onairlab/segue/store"
	"github.com/onairlab/segue/worker"
)

// Options configures Build. Store is the only required field; everything
// else has a working default for a single-process deployment.
type Options struct {
	Store  store.Store
	Logger *slog.Logger
	Config segue.Config

	// Stage service endpoints for the content pipeline. Leave RetrievalURL
	// empty for a queue-only deployment with no pipeline stages registered.
	RetrievalURL string
	ScriptURL    string
	SpeechURL    string
	LoudnessURL  string

	// AudioDir is where rendered audio lands. Defaults to ./audio.
	AudioDir string

	// Pipeline overrides the voice model, speed and loudness target.
	Pipeline pipeline.Config

	// AMQPURL enables cross-node enqueue wakeups over RabbitMQ. Empty
	// keeps wakeups in-process.
	AMQPURL string

	// MetricsAddr serves Prometheus metrics when non-empty, e.g. ":9090".
	MetricsAddr string

	// Backoff overrides the retry delay strategy.
	Backoff backoff.Strategy

	// Limits sets per-job-type concurrency caps and rate limits.
	Limits []queue.LimitConfig

	// Slots is the broadcast programme driving segment production.
	Slots []schedule.Slot

	// Extensions are additional lifecycle hooks to register.
	Extensions []hook.Extension
}

// Engine is a fully wired segue deployment.
type Engine struct {
	station    *segue.Station
	store      store.Store
	logger     *slog.Logger
	registry   *job.Registry
	hooks      *hook.Registry
	queue      *queue.Service
	dlq        *dlq.Service
	machine    *segment.Machine
	pipeline   *pipeline.Pipeline
	pool       *worker.Pool
	reaper     *reaper.Reaper
	programmer *schedule.Programmer
	amqp       *notify.AMQP

	metricsAddr     string
	shutdownTimeout time.Duration
}

// Build wires a segue deployment from the given options.
func Build(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, segue.ErrNoStore
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}
	cfg := normalizeConfig(opts.Config)

	hooks := hook.NewRegistry(logger)
	hooks.Register(observability.NewMetrics())
	for _, ext := range opts.Extensions {
		hooks.Register(ext)
	}

	registry := job.NewRegistry()
	dlqSvc := dlq.NewService(opts.Store, opts.Store)

	local := notify.NewLocal()
	var (
		notifier queue.Notifier = local
		amqpN    *notify.AMQP
	)
	if opts.AMQPURL != "" {
		var err error
		amqpN, err = notify.NewAMQP(opts.AMQPURL, logger)
		if err != nil {
			return nil, err
		}
		notifier = amqpN
	}

	qopts := []queue.ServiceOption{queue.WithNotifier(notifier)}
	if opts.Backoff != nil {
		qopts = append(qopts, queue.WithBackoff(opts.Backoff))
	}
	queueSvc := queue.NewService(opts.Store, registry, dlqSvc, hooks, logger, qopts...)

	machine := segment.NewMachine(opts.Store, logger)

	executor := worker.NewExecutor(registry, queueSvc, logger,
		middleware.Recover(logger),
		middleware.Timeout(logger),
		middleware.Tracing(),
		middleware.Logging(logger),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithLease(cfg.LeaseDuration),
		worker.WithLeaseRenewal(cfg.LeaseRenewInterval),
	}
	if len(cfg.JobTypes) > 0 {
		poolOpts = append(poolOpts, worker.WithPoolJobTypes(cfg.JobTypes))
	}
	if len(opts.Limits) > 0 {
		poolOpts = append(poolOpts, worker.WithLimiter(queue.NewLimiter(opts.Limits...)))
	}
	pool := worker.NewPool(queueSvc, executor, hooks, logger, poolOpts...)

	if amqpN != nil {
		amqpN.Subscribe(pool)
	} else {
		local.Subscribe(pool)
	}

	rp := reaper.New(opts.Store, queueSvc, hooks, logger,
		reaper.WithInterval(cfg.ReapInterval))

	e := &Engine{
		store:           opts.Store,
		logger:          logger,
		registry:        registry,
		hooks:           hooks,
		queue:           queueSvc,
		dlq:             dlqSvc,
		machine:         machine,
		pool:            pool,
		reaper:          rp,
		amqp:            amqpN,
		metricsAddr:     opts.MetricsAddr,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	if opts.RetrievalURL != "" {
		pl, err := buildPipeline(opts, machine, queueSvc, hooks, logger)
		if err != nil {
			return nil, err
		}
		pl.Register(registry)
		hooks.Register(pipeline.NewSegmentFailer(opts.Store, machine, hooks, logger))
		e.pipeline = pl

		prog := schedule.NewProgrammer(opts.Store, pl.Start, hooks, logger)
		for _, slot := range opts.Slots {
			if err := prog.AddSlot(slot); err != nil {
				return nil, fmt.Errorf("engine: add slot %q: %w", slot.Name, err)
			}
		}
		e.programmer = prog
	}

	st, err := segue.New(
		segue.WithStore(opts.Store),
		segue.WithLogger(logger),
		segue.WithConfig(cfg),
	)
	if err != nil {
		return nil, err
	}
	st.SetHooks(hooks)
	st.AddRunner(pool)
	st.AddRunner(rp)
	if e.programmer != nil {
		st.AddRunner(e.programmer)
	}
	e.station = st

	return e, nil
}

func buildPipeline(
	opts Options,
	machine *segment.Machine,
	queueSvc *queue.Service,
	hooks *hook.Registry,
	logger *slog.Logger,
) (*pipeline.Pipeline, error) {
	audioDir := opts.AudioDir
	if audioDir == "" {
		audioDir = "./audio"
	}
	sink, err := pipeline.NewDirSink(audioDir)
	if err != nil {
		return nil, err
	}

	pcfg := opts.Pipeline
	if pcfg.VoiceModel == "" {
		pcfg = pipeline.DefaultConfig()
	}

	// Client timeouts sit under the per-stage job timeouts so that a hung
	// upstream surfaces as a retryable error, not a lease expiry.
	return pipeline.New(
		opts.Store,
		machine,
		queueSvc,
		hooks,
		pipeline.NewHTTPRetrieval(opts.RetrievalURL, 90*time.Second),
		pipeline.NewHTTPScript(opts.ScriptURL, 4*time.Minute),
		pipeline.NewHTTPSpeech(opts.SpeechURL, 8*time.Minute),
		pipeline.NewHTTPLoudness(opts.LoudnessURL, 90*time.Second),
		sink,
		pcfg,
		logger,
	), nil
}

func normalizeConfig(c segue.Config) segue.Config {
	d := segue.DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.LeaseRenewInterval <= 0 {
		c.LeaseRenewInterval = d.LeaseRenewInterval
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// ── Accessors ─────────────────────────────────────────────────────

// Station returns the underlying coordinator.
func (e *Engine) Station() *segue.Station { return e.station }

// Queue returns the queue service.
func (e *Engine) Queue() *queue.Service { return e.queue }

// DLQ returns the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlq }

// Registry returns the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Pipeline returns the content pipeline, or nil when no stage endpoints
// were configured.
func (e *Engine) Pipeline() *pipeline.Pipeline { return e.pipeline }

// Machine returns the segment state machine.
func (e *Engine) Machine() *segment.Machine { return e.machine }

// ── Typed helpers ─────────────────────────────────────────────────

// Register adds a typed job definition to the engine's registry.
// Package-level because Go does not allow generic methods.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Enqueue marshals payload and enqueues a job of the given type.
func Enqueue[T any](ctx context.Context, e *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := marshalPayload(jobType, payload)
	if err != nil {
		return nil, err
	}
	return e.queue.Enqueue(ctx, jobType, data, opts...)
}

func marshalPayload(jobType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal payload for %q: %w", jobType, err)
	}
	return data, nil
}

// ── Operations ────────────────────────────────────────────────────

// EnqueueRaw enqueues a job with a pre-marshaled payload.
func (e *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	return e.queue.Enqueue(ctx, jobType, payload, opts...)
}

// ReplayDLQ re-enqueues a dead letter entry as a fresh job and wakes the
// local pool so it is claimed without waiting out a poll interval.
func (e *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := e.dlq.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}
	e.pool.Nudge()
	return j, nil
}

// RetrySegment is the manual recovery action for a failed segment: back
// to queued with counters reset, then the first pipeline stage enqueued
// again.
func (e *Engine) RetrySegment(ctx context.Context, segmentID id.SegmentID) error {
	if err := e.machine.Retry(ctx, segmentID); err != nil {
		return err
	}
	if e.pipeline == nil {
		return nil
	}
	seg, err := e.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	return e.pipeline.Start(ctx, seg)
}

// Migrate runs store schema migrations.
func (e *Engine) Migrate(ctx context.Context) error { return e.store.Migrate(ctx) }

// ── Lifecycle ─────────────────────────────────────────────────────

// Start launches the metrics endpoint, the wakeup consumer and the
// station's background runners. Component starts run concurrently; the
// first error wins.
func (e *Engine) Start(ctx context.Context) error {
	if e.metricsAddr != "" {
		observability.StartMetricsServer(e.metricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.amqp != nil {
		g.Go(func() error { return e.amqp.Start(gctx) })
	}
	g.Go(func() error { return e.station.Start(gctx) })
	return g.Wait()
}

// Stop shuts the deployment down: wakeup consumer first so no new nudges
// arrive, then the station (pool drain, reaper, programmer, store close).
func (e *Engine) Stop(ctx context.Context) error {
	if e.amqp != nil {
		if err := e.amqp.Close(); err != nil {
			e.logger.Warn("wakeup notifier close error", "error", err)
		}
	}
	return e.station.Stop(ctx)
}

// Run starts the engine and blocks until ctx is cancelled, then performs
// a graceful shutdown bounded by the configured shutdown timeout.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()
	return e.Stop(stopCtx)
}
