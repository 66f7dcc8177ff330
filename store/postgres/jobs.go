package postgres

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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickerq_jobs (
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)`,
		j.ID.String(), j.Function, j.Payload, j.Priority, string(j.Status),
		j.Retry.MaxRetries, delaysToNanos(j.Retry.Delays), j.ExecuteAt,
		j.Attempt, j.LastError,
		leaseOwner(j.Lease), leaseExpires(j.Lease), idOrNil(j.ParentID),
		string(j.RunCondition), j.CancelReason, j.StartedAt, j.CompletedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tickerq.ErrJobAlreadyExists
		}
		return fmt.Errorf("tickerq/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		FROM tickerq_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tickerq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tickerq/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job unconditionally.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_jobs SET
			function = $2, payload = $3, priority = $4, status = $5,
			max_retries = $6, retry_delays = $7, execute_at = $8,
			attempt = $9, last_error = $10, lease_owner = $11,
			lease_expires_at = $12, parent_id = $13, run_condition = $14,
			cancel_reason = $15, started_at = $16, completed_at = $17,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Function, j.Payload, j.Priority, string(j.Status),
		j.Retry.MaxRetries, delaysToNanos(j.Retry.Delays), j.ExecuteAt,
		j.Attempt, j.LastError, leaseOwner(j.Lease), leaseExpires(j.Lease),
		idOrNil(j.ParentID), string(j.RunCondition), j.CancelReason,
		j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("tickerq/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tickerq.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tickerq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("tickerq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
		  AND execute_at <= $1
		  AND (lease_owner IS NULL OR lease_expires_at <= $1)
		  AND (parent_id IS NULL OR status <> 'idle')
		ORDER BY execute_at ASC, priority DESC, id ASC`
	args := []any{now}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ClaimJob atomically transitions a claimable job to InProgress under a
// lease. The WHERE clause re-checks claimability so concurrent claimers
// race on a single conditional UPDATE.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_jobs SET
			status = 'in_progress',
			lease_owner = $2,
			lease_expires_at = $3,
			started_at = COALESCE(started_at, $4),
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('idle', 'queued', 'in_progress')
		  AND execute_at <= $4
		  AND (lease_owner IS NULL OR lease_expires_at <= $4)
		  AND (parent_id IS NULL OR status <> 'idle')`,
		jobID.String(), owner.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/postgres: claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewJobLease extends the lease expiry while owner still holds the job.
func (s *Store) RenewJobLease(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_jobs SET
			lease_expires_at = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND lease_owner = $2
		  AND lease_expires_at > $4`,
		jobID.String(), owner.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/postgres: renew job lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateJobOwned persists changes only while owner still holds an
// unexpired lease on the stored row. A false return means the lease was
// lost and the write was discarded.
func (s *Store) UpdateJobOwned(ctx context.Context, j *job.Job, owner id.NodeID) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_jobs SET
			function = $2, payload = $3, priority = $4, status = $5,
			max_retries = $6, retry_delays = $7, execute_at = $8,
			attempt = $9, last_error = $10, lease_owner = $11,
			lease_expires_at = $12, parent_id = $13, run_condition = $14,
			cancel_reason = $15, started_at = $16, completed_at = $17,
			updated_at = NOW()
		WHERE id = $1
		  AND lease_owner = $18
		  AND lease_expires_at > $19`,
		j.ID.String(), j.Function, j.Payload, j.Priority, string(j.Status),
		j.Retry.MaxRetries, delaysToNanos(j.Retry.Delays), j.ExecuteAt,
		j.Attempt, j.LastError, leaseOwner(j.Lease), leaseExpires(j.Lease),
		idOrNil(j.ParentID), string(j.RunCondition), j.CancelReason,
		j.StartedAt, j.CompletedAt,
		owner.String(), now,
	)
	if err != nil {
		return false, fmt.Errorf("tickerq/postgres: update job owned: %w", err)
	}
	return tag.RowsAffected() == 1, nil
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
		WHERE status = $1
		ORDER BY created_at ASC, id ASC`
	args := []any{string(status)}
	argIdx := 2

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
		return nil, fmt.Errorf("tickerq/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM tickerq_jobs WHERE 1=1`
	var args []any
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Function != "" {
		query += fmt.Sprintf(" AND function = $%d", argIdx)
		args = append(args, opts.Function)
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("tickerq/postgres: count jobs: %w", err)
	}
	return n, nil
}

// ChildJobs returns the direct batch children of the given parent.
func (s *Store) ChildJobs(ctx context.Context, parentID id.JobID) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, function, payload, priority, status, max_retries,
			retry_delays, execute_at, attempt, last_error,
			lease_owner, lease_expires_at, parent_id, run_condition,
			cancel_reason, started_at, completed_at, created_at, updated_at
		FROM tickerq_jobs
		WHERE parent_id = $1
		ORDER BY created_at ASC, id ASC`,
		parentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: child jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// EarliestJobDue returns the earliest ExecuteAt among unclaimed claimable
// jobs due after now, or nil when there is none.
func (s *Store) EarliestJobDue(ctx context.Context, now time.Time) (*time.Time, error) {
	var earliest *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(execute_at) FROM tickerq_jobs
		WHERE status IN ('idle', 'queued')
		  AND (parent_id IS NULL OR status = 'queued')
		  AND (lease_owner IS NULL OR lease_expires_at <= $1)
		  AND execute_at > $1`,
		now,
	).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: earliest job due: %w", err)
	}
	return earliest, nil
}
