// Package store defines the aggregate persistence interface. Each
// subsystem (job, segment, dlq) defines its own store interface; the
// composite Store composes them all. A single backend (bun, memory)
// implements every subsystem's persistence contract.
package store

import (
	"context"

	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	segment.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
