package postgres

import (
	"context"
	"fmt"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
)

// PushDLQ adds a permanently failed entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickerq_dlq (
			id, source_id, source, function, payload, priority,
			max_retries, retry_delays, error, attempts,
			failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13
		)`,
		entry.ID.String(), entry.SourceID.String(), string(entry.Source),
		entry.Function, entry.Payload, entry.Priority,
		entry.Retry.MaxRetries, delaysToNanos(entry.Retry.Delays),
		entry.Error, entry.Attempts,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tickerq/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest failures
// first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `
		SELECT
			id, source_id, source, function, payload, priority,
			max_retries, retry_delays, error, attempts,
			failed_at, replayed_at, created_at
		FROM tickerq_dlq`
	var args []any
	argIdx := 1

	if opts.Function != "" {
		query += fmt.Sprintf(" WHERE function = $%d", argIdx)
		args = append(args, opts.Function)
		argIdx++
	}

	query += " ORDER BY failed_at DESC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	return collectDLQ(rows)
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, source_id, source, function, payload, priority,
			max_retries, retry_delays, error, attempts,
			failed_at, replayed_at, created_at
		FROM tickerq_dlq
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("tickerq/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tickerq_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("tickerq/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tickerq.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tickerq_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("tickerq/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickerq_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("tickerq/postgres: count dlq: %w", err)
	}
	return n, nil
}
