package postgres

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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickerq_cron_definitions (
			id, name, function, expression, payload, priority,
			max_retries, retry_delays, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)`,
		d.ID.String(), d.Name, d.Function, d.Expression, d.Payload,
		d.Priority, d.Retry.MaxRetries, delaysToNanos(d.Retry.Delays),
		d.Active, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrDuplicateDefinition
		}
		return fmt.Errorf("tickerq/postgres: create definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by ID.
func (s *Store) GetDefinition(ctx context.Context, defID id.DefinitionID) (*cron.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, function, expression, payload, priority,
			max_retries, retry_delays, active, created_at, updated_at
		FROM tickerq_cron_definitions
		WHERE id = $1`,
		defID.String(),
	)

	d, err := scanDefinition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("tickerq/postgres: get definition: %w", err)
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

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: list definitions: %w", err)
	}
	defer rows.Close()

	return collectDefinitions(rows)
}

// UpdateDefinition updates a definition.
func (s *Store) UpdateDefinition(ctx context.Context, d *cron.Definition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_cron_definitions SET
			name = $2, function = $3, expression = $4, payload = $5,
			priority = $6, max_retries = $7, retry_delays = $8,
			active = $9, updated_at = NOW()
		WHERE id = $1`,
		d.ID.String(), d.Name, d.Function, d.Expression, d.Payload,
		d.Priority, d.Retry.MaxRetries, delaysToNanos(d.Retry.Delays),
		d.Active,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrDuplicateDefinition
		}
		return fmt.Errorf("tickerq/postgres: update definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tickerq.ErrDefinitionNotFound
	}
	return nil
}

// DeleteDefinition removes a definition by ID. Its occurrences are
// retained as history.
func (s *Store) DeleteDefinition(ctx context.Context, defID id.DefinitionID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tickerq_cron_definitions WHERE id = $1`, defID.String())
	if err != nil {
		return fmt.Errorf("tickerq/postgres: delete definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tickerq.ErrDefinitionNotFound
	}
	return nil
}

// CreateOccurrence persists a new occurrence. The (definition_id, slot_at)
// unique index makes materialization idempotent.
func (s *Store) CreateOccurrence(ctx context.Context, o *cron.Occurrence) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickerq_occurrences (
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18
		)`,
		o.ID.String(), o.DefinitionID.String(), o.SlotAt, o.DueAt,
		o.Function, o.Payload, o.Priority, o.Retry.MaxRetries,
		delaysToNanos(o.Retry.Delays), string(o.Status), o.Attempt,
		o.LastError, leaseOwner(o.Lease), leaseExpires(o.Lease),
		o.StartedAt, o.CompletedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrDuplicateOccurrence
		}
		return fmt.Errorf("tickerq/postgres: create occurrence: %w", err)
	}
	return nil
}

// GetOccurrence retrieves an occurrence by ID.
func (s *Store) GetOccurrence(ctx context.Context, occID id.OccurrenceID) (*cron.Occurrence, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		FROM tickerq_occurrences
		WHERE id = $1`,
		occID.String(),
	)

	o, err := scanOccurrence(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrOccurrenceNotFound
		}
		return nil, fmt.Errorf("tickerq/postgres: get occurrence: %w", err)
	}
	return o, nil
}

// ListOccurrences returns all occurrences for a definition ordered by
// DueAt ascending.
func (s *Store) ListOccurrences(ctx context.Context, defID id.DefinitionID) ([]*cron.Occurrence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, definition_id, slot_at, due_at, function, payload,
			priority, max_retries, retry_delays, status, attempt,
			last_error, lease_owner, lease_expires_at,
			started_at, completed_at, created_at, updated_at
		FROM tickerq_occurrences
		WHERE definition_id = $1
		ORDER BY due_at ASC, id ASC`,
		defID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: list occurrences: %w", err)
	}
	defer rows.Close()

	return collectOccurrences(rows)
}

// LatestOccurrenceFor returns the latest SlotAt materialized for a
// definition, or nil if none exists.
func (s *Store) LatestOccurrenceFor(ctx context.Context, defID id.DefinitionID) (*time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(slot_at) FROM tickerq_occurrences WHERE definition_id = $1`,
		defID.String(),
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: latest occurrence: %w", err)
	}
	return latest, nil
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
		  AND due_at <= $1
		  AND (lease_owner IS NULL OR lease_expires_at <= $1)
		ORDER BY due_at ASC, priority DESC, id ASC`
	args := []any{now}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: due occurrences: %w", err)
	}
	defer rows.Close()

	return collectOccurrences(rows)
}

// ClaimOccurrence atomically transitions a claimable occurrence to
// InProgress under a lease.
func (s *Store) ClaimOccurrence(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_occurrences SET
			status = 'in_progress',
			lease_owner = $2,
			lease_expires_at = $3,
			started_at = COALESCE(started_at, $4),
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('idle', 'queued', 'in_progress')
		  AND due_at <= $4
		  AND (lease_owner IS NULL OR lease_expires_at <= $4)`,
		occID.String(), owner.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/postgres: claim occurrence: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewOccurrenceLease extends the lease expiry while owner still holds
// the occurrence.
func (s *Store) RenewOccurrenceLease(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_occurrences SET
			lease_expires_at = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND lease_owner = $2
		  AND lease_expires_at > $4`,
		occID.String(), owner.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/postgres: renew occurrence lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateOccurrenceOwned persists changes only while owner still holds an
// unexpired lease on the stored row.
func (s *Store) UpdateOccurrenceOwned(ctx context.Context, o *cron.Occurrence, owner id.NodeID) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_occurrences SET
			due_at = $2, function = $3, payload = $4, priority = $5,
			max_retries = $6, retry_delays = $7, status = $8,
			attempt = $9, last_error = $10, lease_owner = $11,
			lease_expires_at = $12, started_at = $13, completed_at = $14,
			updated_at = NOW()
		WHERE id = $1
		  AND lease_owner = $15
		  AND lease_expires_at > $16`,
		o.ID.String(), o.DueAt, o.Function, o.Payload, o.Priority,
		o.Retry.MaxRetries, delaysToNanos(o.Retry.Delays), string(o.Status),
		o.Attempt, o.LastError, leaseOwner(o.Lease), leaseExpires(o.Lease),
		o.StartedAt, o.CompletedAt,
		owner.String(), now,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/postgres: update occurrence owned: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// EarliestOccurrenceDue returns the earliest DueAt among unclaimed
// claimable occurrences due after now, or nil when there is none.
func (s *Store) EarliestOccurrenceDue(ctx context.Context, now time.Time) (*time.Time, error) {
	var earliest *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(due_at) FROM tickerq_occurrences
		WHERE status IN ('idle', 'queued')
		  AND (lease_owner IS NULL OR lease_expires_at <= $1)
		  AND due_at > $1`,
		now,
	).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: earliest occurrence due: %w", err)
	}
	return earliest, nil
}

// CountOccurrences returns the number of occurrences with the given
// status. Empty status counts all.
func (s *Store) CountOccurrences(ctx context.Context, status job.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM tickerq_occurrences`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("tickerq/postgres: count occurrences: %w", err)
	}
	return n, nil
}
