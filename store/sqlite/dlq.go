package sqlite

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
	delays, err := delaysToJSON(entry.Retry.Delays)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickerq_dlq (
			id, source_id, source, function, payload, priority,
			max_retries, retry_delays, error, attempts,
			failed_at, replayed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.SourceID.String(), string(entry.Source),
		entry.Function, entry.Payload, entry.Priority,
		entry.Retry.MaxRetries, delays, entry.Error, entry.Attempts,
		timeToNanos(entry.FailedAt), timePtrToNanos(entry.ReplayedAt),
		timeToNanos(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: push dlq: %w", err)
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

	if opts.Function != "" {
		query += " WHERE function = ?"
		args = append(args, opts.Function)
	}

	query += " ORDER BY failed_at DESC, id ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	return collectDLQ(rows)
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, source_id, source, function, payload, priority,
			max_retries, retry_delays, error, attempts,
			failed_at, replayed_at, created_at
		FROM tickerq_dlq
		WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("tickerq/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickerq_dlq SET replayed_at = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: replay dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: replay dlq: %w", err)
	}
	if n == 0 {
		return tickerq.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tickerq_dlq WHERE failed_at < ?`, timeToNanos(before))
	if err != nil {
		return 0, fmt.Errorf("tickerq/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tickerq/sqlite: purge dlq: %w", err)
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickerq_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("tickerq/sqlite: count dlq: %w", err)
	}
	return n, nil
}
