package dlq

import (
	"context"
	"time"

	"github.com/onairlab/segue/id"
)

// ListOpts controls pagination and filtering for dead letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// JobType filters by job type. Empty means all types.
	JobType string
}

// Store defines the persistence contract for the dead letter archive.
type Store interface {
	// PushDLQ appends a terminally-failed job entry to the archive.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching the given options, oldest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// MarkReplayed records that an entry has been replayed. The re-enqueue
	// itself is handled at the service layer.
	MarkReplayed(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries that failed before the given time.
	// Returns the number of entries removed. Retention is indefinite
	// unless an operator invokes this explicitly.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of archived entries.
	CountDLQ(ctx context.Context) (int64, error)
}
