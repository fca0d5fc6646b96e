package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines per-job-type throughput bounds. Stage services
// differ wildly in capacity (the speech synthesizer renders slower than
// real time, retrieval is cheap), so each job type carries its own
// limits.
type LimitConfig struct {
	// JobType is the job type the limits apply to.
	JobType string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously across the local worker pool. Zero means no
	// type-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second of this type.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
}

// Limiter enforces per-job-type rate limits and concurrency caps.
// It is safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimiter creates a Limiter with the given configurations. Job types
// not listed have no limits.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{
		types: make(map[string]*typeState, len(configs)),
	}
	for _, cfg := range configs {
		l.types[cfg.JobType] = newTypeState(cfg)
	}
	return l
}

func newTypeState(cfg LimitConfig) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the given job type. If
// the job may proceed it increments the active counter and returns true.
// The caller MUST call Release when the job finishes.
func (l *Limiter) Acquire(jobType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for the job type.
func (l *Limiter) Release(jobType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a job type's limits,
// preserving the current active count.
func (l *Limiter) SetConfig(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.types[cfg.JobType]
	ts := newTypeState(cfg)
	if existing != nil {
		ts.active = existing.active
	}
	l.types[cfg.JobType] = ts
}

// ActiveCount returns the current number of active jobs for a job type.
func (l *Limiter) ActiveCount(jobType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
