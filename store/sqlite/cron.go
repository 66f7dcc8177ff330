package sqlite

import (
	"context"
	"fmt"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// CreateDefinition persists a new definition. Names are unique.
func (s *Store) CreateDefinition(ctx context.Context, d *cron.Definition) error {
	delays, err := delaysToJSON(d.Retry.Delays)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickerq_cron_definitions (
			id, name, function, expression, payload, priority,
			max_retries, retry_delays, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.Name, d.Function, d.Expression, d.Payload,
		d.Priority, d.Retry.MaxRetries, delays, d.Active,
		timeToNanos(d.CreatedAt), timeToNanos(d.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrDuplicateDefinition
		}
		return fmt.Errorf("tickerq/sqlite: create definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by ID.
func (s *Store) GetDefinition(ctx context.Context, defID id.DefinitionID) (*cron.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, name, function, expression, payload, priority,
			max_retries, retry_delays, active, created_at, updated_at
		FROM tickerq_cron_definitions
		WHERE id = ?`,
		defID.String(),
	)

	d, err := scanDefinition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("tickerq/sqlite: get definition: %w", err)
	}
	return d, nil
}

// ListDefinitions returns all definitions ordered by name.
func (s *Store) ListDefinitions(ctx context.Context, activeOnly bool) ([]*cron.Definition, error) {
	query := `
		SELECT
			id, name, function, expression, payload, priority,
			max_retries, retry_delays, active, created_at, updated_at
		FROM tickerq_cron_definitions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: list definitions: %w", err)
	}
	defer rows.Close()

	return collectDefinitions(rows)
}

// UpdateDefinition updates a definition.
func (s *Store) UpdateDefinition(ctx context.Context, d *cron.Definition) error {
	delays, err := delaysToJSON(d.Retry.Delays)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_cron_definitions SET
			name = ?, function = ?, expression = ?, payload = ?,
			priority = ?, max_retries = ?, retry_delays = ?,
			active = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.Function, d.Expression, d.Payload,
		d.Priority, d.Retry.MaxRetries, delays, d.Active,
		time.Now().UTC().UnixNano(),
		d.ID.String(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrDuplicateDefinition
		}
		return fmt.Errorf("tickerq/sqlite: update definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: update definition: %w", err)
	}
	if n == 0 {
		return tickerq.ErrDefinitionNotFound
	}
	return nil
}

// DeleteDefinition removes a definition by ID. Its occurrences are
// retained as history.
func (s *Store) DeleteDefinition(ctx context.Context, defID id.DefinitionID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tickerq_cron_definitions WHERE id = ?`, defID.String())
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: delete definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: delete definition: %w", err)
	}
	if n == 0 {
		return tickerq.ErrDefinitionNotFound
	}
	return nil
}

// CreateOccurrence persists a new occurrence. The (definition_id, slot_at)
// unique index makes materialization idempotent.
func (s *Store) CreateOccurrence(ctx context.Context, o *cron.Occurrence) error {
	delays, err := delaysToJSON(o.Retry.Delays)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickerq_occurrences (
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.DefinitionID.String(), timeToNanos(o.SlotAt),
		timeToNanos(o.DueAt), o.Function, o.Payload, o.Priority,
		o.Retry.MaxRetries, delays, string(o.Status), o.Attempt,
		o.LastError, leaseOwner(o.Lease), leaseExpiresNanos(o.Lease),
		timePtrToNanos(o.StartedAt), timePtrToNanos(o.CompletedAt),
		timeToNanos(o.CreatedAt), timeToNanos(o.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrDuplicateOccurrence
		}
		return fmt.Errorf("tickerq/sqlite: create occurrence: %w", err)
	}
	return nil
}

// GetOccurrence retrieves an occurrence by ID.
func (s *Store) GetOccurrence(ctx context.Context, occID id.OccurrenceID) (*cron.Occurrence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		FROM tickerq_occurrences
		WHERE id = ?`,
		occID.String(),
	)

	o, err := scanOccurrence(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrOccurrenceNotFound
		}
		return nil, fmt.Errorf("tickerq/sqlite: get occurrence: %w", err)
	}
	return o, nil
}

// ListOccurrences returns all occurrences for a definition ordered by
// DueAt ascending.
func (s *Store) ListOccurrences(ctx context.Context, defID id.DefinitionID) ([]*cron.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		FROM tickerq_occurrences
		WHERE definition_id = ?
		ORDER BY due_at ASC, id ASC`,
		defID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: list occurrences: %w", err)
	}
	defer rows.Close()

	return collectOccurrences(rows)
}

// LatestOccurrenceFor returns the latest SlotAt materialized for a
// definition, or nil if none exists.
func (s *Store) LatestOccurrenceFor(ctx context.Context, defID id.DefinitionID) (*time.Time, error) {
	var latest *int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(slot_at) FROM tickerq_occurrences WHERE definition_id = ?`,
		defID.String(),
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: latest occurrence: %w", err)
	}
	return nanosToTimePtr(latest), nil
}

// DueOccurrences returns up to limit claimable occurrences ordered DueAt
// ascending, priority descending, id ascending.
func (s *Store) DueOccurrences(ctx context.Context, now time.Time, limit int) ([]*cron.Occurrence, error) {
	query := `
		SELECT
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		FROM tickerq_occurrences
		WHERE status IN ('idle', 'queued', 'in_progress')
		  AND due_at <= ?
		  AND (lease_owner IS NULL OR lease_expires_at <= ?)
		ORDER BY due_at ASC, priority DESC, id ASC`
	nanos := timeToNanos(now)
	args := []any{nanos, nanos}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: due occurrences: %w", err)
	}
	defer rows.Close()

	return collectOccurrences(rows)
}

// ClaimOccurrence atomically transitions a claimable occurrence to
// InProgress under a lease.
func (s *Store) ClaimOccurrence(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	nanos := now.UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_occurrences SET
			status = 'in_progress',
			lease_owner = ?,
			lease_expires_at = ?,
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		WHERE id = ?
		  AND status IN ('idle', 'queued', 'in_progress')
		  AND due_at <= ?
		  AND (lease_owner IS NULL OR lease_expires_at <= ?)`,
		owner.String(), now.Add(ttl).UnixNano(), nanos, nanos,
		occID.String(), nanos, nanos,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: claim occurrence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: claim occurrence: %w", err)
	}
	return n == 1, nil
}

// RenewOccurrenceLease extends the lease expiry while owner still holds
// the occurrence.
func (s *Store) RenewOccurrenceLease(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_occurrences SET
			lease_expires_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND status = 'in_progress'
		  AND lease_owner = ?
		  AND lease_expires_at > ?`,
		now.Add(ttl).UnixNano(), now.UnixNano(),
		occID.String(), owner.String(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: renew occurrence lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: renew occurrence lease: %w", err)
	}
	return n == 1, nil
}

// UpdateOccurrenceOwned persists changes only while owner still holds an
// unexpired lease on the stored row.
func (s *Store) UpdateOccurrenceOwned(ctx context.Context, o *cron.Occurrence, owner id.NodeID) (bool, error) {
	delays, err := delaysToJSON(o.Retry.Delays)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_occurrences SET
			due_at = ?, function = ?, payload = ?, priority = ?,
			max_retries = ?, retry_delays = ?, status = ?,
			attempt = ?, last_error = ?, lease_owner = ?,
			lease_expires_at = ?, started_at = ?, completed_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND lease_owner = ?
		  AND lease_expires_at > ?`,
		timeToNanos(o.DueAt), o.Function, o.Payload, o.Priority,
		o.Retry.MaxRetries, delays, string(o.Status),
		o.Attempt, o.LastError, leaseOwner(o.Lease), leaseExpiresNanos(o.Lease),
		timePtrToNanos(o.StartedAt), timePtrToNanos(o.CompletedAt),
		now.UnixNano(),
		o.ID.String(), owner.String(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: update occurrence owned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: update occurrence owned: %w", err)
	}
	return n == 1, nil
}

// EarliestOccurrenceDue returns the earliest DueAt among unclaimed
// claimable occurrences due after now, or nil when there is none.
func (s *Store) EarliestOccurrenceDue(ctx context.Context, now time.Time) (*time.Time, error) {
	nanos := timeToNanos(now)
	var earliest *int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(due_at) FROM tickerq_occurrences
		WHERE status IN ('idle', 'queued')
		  AND (lease_owner IS NULL OR lease_expires_at <= ?)
		  AND due_at > ?`,
		nanos, nanos,
	).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: earliest occurrence due: %w", err)
	}
	return nanosToTimePtr(earliest), nil
}

// CountOccurrences returns the number of occurrences with the given
// status. Empty status counts all.
func (s *Store) CountOccurrences(ctx context.Context, status job.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM tickerq_occurrences`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("tickerq/sqlite: count occurrences: %w", err)
	}
	return n, nil
}
