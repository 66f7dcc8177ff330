package sqlite

import (
	"context"
	"fmt"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	delays, err := delaysToJSON(j.Retry.Delays)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickerq_jobs (
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Function, j.Payload, j.Priority, string(j.Status),
		j.Retry.MaxRetries, delays, timeToNanos(j.ExecuteAt), j.Attempt,
		j.LastError, leaseOwner(j.Lease), leaseExpiresNanos(j.Lease),
		idOrNil(j.ParentID), string(j.RunCondition), j.CancelReason,
		timePtrToNanos(j.StartedAt), timePtrToNanos(j.CompletedAt),
		timeToNanos(j.CreatedAt), timeToNanos(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrJobAlreadyExists
		}
		return fmt.Errorf("tickerq/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		FROM tickerq_jobs
		WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tickerq/sqlite: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job unconditionally.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	delays, err := delaysToJSON(j.Retry.Delays)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_jobs SET
			function = ?, payload = ?, priority = ?, status = ?,
			max_retries = ?, retry_delays = ?, execute_at = ?,
			attempt = ?, last_error = ?, lease_owner = ?,
			lease_expires_at = ?, parent_id = ?, run_condition = ?,
			cancel_reason = ?, started_at = ?, completed_at = ?,
			updated_at = ?
		WHERE id = ?`,
		j.Function, j.Payload, j.Priority, string(j.Status),
		j.Retry.MaxRetries, delays, timeToNanos(j.ExecuteAt),
		j.Attempt, j.LastError, leaseOwner(j.Lease), leaseExpiresNanos(j.Lease),
		idOrNil(j.ParentID), string(j.RunCondition), j.CancelReason,
		timePtrToNanos(j.StartedAt), timePtrToNanos(j.CompletedAt),
		time.Now().UTC().UnixNano(),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: update job: %w", err)
	}
	if n == 0 {
		return tickerq.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickerq_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tickerq/sqlite: delete job: %w", err)
	}
	if n == 0 {
		return tickerq.ErrJobNotFound
	}
	return nil
}

// DueJobs returns up to limit claimable jobs ordered oldest due first,
// priority breaking ties, then id.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	query := `
		SELECT
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		FROM tickerq_jobs
		WHERE status IN ('idle', 'queued', 'in_progress')
		  AND execute_at <= ?
		  AND (lease_owner IS NULL OR lease_expires_at <= ?)
		  AND (parent_id IS NULL OR status <> 'idle')
		ORDER BY execute_at ASC, priority DESC, id ASC`
	nanos := timeToNanos(now)
	args := []any{nanos, nanos}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ClaimJob atomically transitions a claimable job to InProgress under a
// lease via a conditional UPDATE.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	nanos := now.UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_jobs SET
			status = 'in_progress',
			lease_owner = ?,
			lease_expires_at = ?,
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		WHERE id = ?
		  AND status IN ('idle', 'queued', 'in_progress')
		  AND execute_at <= ?
		  AND (lease_owner IS NULL OR lease_expires_at <= ?)
		  AND (parent_id IS NULL OR status <> 'idle')`,
		owner.String(), now.Add(ttl).UnixNano(), nanos, nanos,
		jobID.String(), nanos, nanos,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: claim job: %w", err)
	}
	return n == 1, nil
}

// RenewJobLease extends the lease expiry while owner still holds the job.
func (s *Store) RenewJobLease(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_jobs SET
			lease_expires_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND status = 'in_progress'
		  AND lease_owner = ?
		  AND lease_expires_at > ?`,
		now.Add(ttl).UnixNano(), now.UnixNano(),
		jobID.String(), owner.String(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: renew job lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: renew job lease: %w", err)
	}
	return n == 1, nil
}

// UpdateJobOwned persists changes only while owner still holds an
// unexpired lease on the stored row.
func (s *Store) UpdateJobOwned(ctx context.Context, j *job.Job, owner id.NodeID) (bool, error) {
	delays, err := delaysToJSON(j.Retry.Delays)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickerq_jobs SET
			function = ?, payload = ?, priority = ?, status = ?,
			max_retries = ?, retry_delays = ?, execute_at = ?,
			attempt = ?, last_error = ?, lease_owner = ?,
			lease_expires_at = ?, parent_id = ?, run_condition = ?,
			cancel_reason = ?, started_at = ?, completed_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND lease_owner = ?
		  AND lease_expires_at > ?`,
		j.Function, j.Payload, j.Priority, string(j.Status),
		j.Retry.MaxRetries, delays, timeToNanos(j.ExecuteAt),
		j.Attempt, j.LastError, leaseOwner(j.Lease), leaseExpiresNanos(j.Lease),
		idOrNil(j.ParentID), string(j.RunCondition), j.CancelReason,
		timePtrToNanos(j.StartedAt), timePtrToNanos(j.CompletedAt),
		now.UnixNano(),
		j.ID.String(), owner.String(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: update job owned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tickerq/sqlite: update job owned: %w", err)
	}
	return n == 1, nil
}

// ListJobsByStatus returns jobs matching the given status, ordered by
// creation time.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		FROM tickerq_jobs
		WHERE status = ?
		ORDER BY created_at ASC, id ASC`
	args := []any{string(status)}

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite requires LIMIT before OFFSET.
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM tickerq_jobs WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Function != "" {
		query += " AND function = ?"
		args = append(args, opts.Function)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("tickerq/sqlite: count jobs: %w", err)
	}
	return n, nil
}

// ChildJobs returns the direct batch children of the given parent.
func (s *Store) ChildJobs(ctx context.Context, parentID id.JobID) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		FROM tickerq_jobs
		WHERE parent_id = ?
		ORDER BY created_at ASC, id ASC`,
		parentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: child jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// EarliestJobDue returns the earliest ExecuteAt among unclaimed claimable
// jobs due after now, or nil when there is none.
func (s *Store) EarliestJobDue(ctx context.Context, now time.Time) (*time.Time, error) {
	nanos := timeToNanos(now)
	var earliest *int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(execute_at) FROM tickerq_jobs
		WHERE status IN ('idle', 'queued')
		  AND (parent_id IS NULL OR status = 'queued')
		  AND (lease_owner IS NULL OR lease_expires_at <= ?)
		  AND execute_at > ?`,
		nanos, nanos,
	).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: earliest job due: %w", err)
	}
	return nanosToTimePtr(earliest), nil
}
