package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// delaysToNanos converts a retry delay sequence to nanosecond integers
// for a BIGINT[] column.
func delaysToNanos(delays []time.Duration) []int64 {
	nanos := make([]int64, len(delays))
	for i, d := range delays {
		nanos[i] = d.Nanoseconds()
	}
	return nanos
}

func nanosToDelays(nanos []int64) []time.Duration {
	if len(nanos) == 0 {
		return nil
	}
	delays := make([]time.Duration, len(nanos))
	for i, n := range nanos {
		delays[i] = time.Duration(n)
	}
	return delays
}

// idOrNil maps a nil ID to SQL NULL.
func idOrNil(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

// leaseOwner and leaseExpires split a lease into its nullable columns.
func leaseOwner(l *job.Lease) *string {
	if l == nil {
		return nil
	}
	s := l.Owner.String()
	return &s
}

func leaseExpires(l *job.Lease) *time.Time {
	if l == nil {
		return nil
	}
	t := l.ExpiresAt
	return &t
}
