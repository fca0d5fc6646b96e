package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/id"
)

// PushDLQ appends a terminally-failed job entry to the archive.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	m, err := toDLQModel(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("segue/bun: push dead letter: %w", err)
	}
	return nil
}

// ListDLQ returns archived entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.JobType != "" {
		q = q.Where("job_type = ?", opts.JobType)
	}

	q = q.Order("failed_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("segue/bun: list dead letters: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromDLQModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("segue/bun: list dead letters convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an archived entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, segue.ErrDLQNotFound
		}
		return nil, fmt.Errorf("segue/bun: get dead letter: %w", err)
	}
	return fromDLQModel(m)
}

// MarkReplayed records that an entry has been replayed.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.NewUpdate().
		TableExpr("segue_dlq").
		Set("replayed_at = NOW()").
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("segue/bun: mark replayed: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return segue.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time. Retention
// is indefinite unless an operator invokes this explicitly.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("segue_dlq").
		Where("failed_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("segue/bun: purge dead letters: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the total number of archived entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().TableExpr("segue_dlq").Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("segue/bun: count dead letters: %w", err)
	}
	return int64(count), nil
}
