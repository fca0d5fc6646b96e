package segue

import (
	"context"
	"log/slog"
)

// Option configures a Station.
type Option func(*Station) error

// Storer is the minimal store interface held by the Station. It covers
// lifecycle operations only; the subsystem interfaces (job.Store,
// segment.Store, dlq.Store) are asserted where they are needed, in the
// engine layer, to avoid import cycles with the root package.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background component lifecycle
// (worker pool, reaper, programmer).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for shutdown notification.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Station is the central coordinator for a segue deployment: it owns the
// configuration, logger and store, and runs the worker pool and reaper.
// Create one with New and wire subsystems with engine.Build.
type Station struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	hooks   hookEmitter
	runners []runner

	started bool
}

// New creates a Station with the given options.
func New(opts ...Option) (*Station, error) {
	st := &Station{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Logger returns the station's logger.
func (st *Station) Logger() *slog.Logger { return st.logger }

// Store returns the station's store.
func (st *Station) Store() Storer { return st.store }

// Config returns a copy of the station's configuration.
func (st *Station) Config() Config { return st.config }

// AddRunner registers a background component to start and stop with the
// station (called by the engine layer).
func (st *Station) AddRunner(r runner) { st.runners = append(st.runners, r) }

// SetHooks sets the hook emitter (called by the engine layer).
func (st *Station) SetHooks(h hookEmitter) { st.hooks = h }

// Start launches all registered background components.
func (st *Station) Start(ctx context.Context) error {
	if len(st.runners) == 0 {
		return ErrNoStore
	}
	for _, r := range st.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	st.started = true
	return nil
}

// Stop shuts down background components in reverse start order, emits the
// shutdown hook, and closes the store.
func (st *Station) Stop(ctx context.Context) error {
	if st.started {
		for i := len(st.runners) - 1; i >= 0; i-- {
			if err := st.runners[i].Stop(ctx); err != nil {
				st.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if st.hooks != nil {
		st.hooks.EmitShutdown(ctx)
	}
	if st.store != nil {
		return st.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(st *Station) error {
		st.config.Concurrency = n
		return nil
	}
}

// WithJobTypes restricts which job types this station's workers claim.
func WithJobTypes(types []string) Option {
	return func(st *Station) error {
		st.config.JobTypes = types
		return nil
	}
}

// WithLogger sets the structured logger for the station.
func WithLogger(l *slog.Logger) Option {
	return func(st *Station) error {
		st.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the station.
func WithStore(s Storer) Option {
	return func(st *Station) error {
		st.store = s
		return nil
	}
}

// WithConfig replaces the station configuration wholesale.
func WithConfig(c Config) Option {
	return func(st *Station) error {
		st.config = c
		return nil
	}
}
