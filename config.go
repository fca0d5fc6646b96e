package segue

import "time"

// Config holds configuration for a Station.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// JobTypes is the set of job types this station's workers will claim.
	// Empty means all registered types.
	JobTypes []string

	// PollInterval is how long a worker sleeps when the claimable pool is
	// empty before polling again.
	PollInterval time.Duration

	// LeaseDuration is how long a claimed job may sit in processing before
	// the reaper may reclaim it. Workers renew the lease while a handler
	// is still running.
	LeaseDuration time.Duration

	// LeaseRenewInterval is how often active jobs have their lease renewed.
	LeaseRenewInterval time.Duration

	// ReapInterval is how often the reaper scans for expired leases.
	ReapInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        8,
		PollInterval:       time.Second,
		LeaseDuration:      2 * time.Minute,
		LeaseRenewInterval: 30 * time.Second,
		ReapInterval:       30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}
