package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ── time columns (unix nanoseconds) ──────────────────────────────

func timeToNanos(t time.Time) int64 {
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func timePtrToNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func nanosToTimePtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n).UTC()
	return &t
}

// ── retry delay columns (JSON array of nanoseconds) ──────────────

func delaysToJSON(delays []time.Duration) (string, error) {
	nanos := make([]int64, len(delays))
	for i, d := range delays {
		nanos[i] = d.Nanoseconds()
	}
	data, err := json.Marshal(nanos)
	if err != nil {
		return "", fmt.Errorf("tickerq/sqlite: encode retry delays: %w", err)
	}
	return string(data), nil
}

func delaysFromJSON(s string) ([]time.Duration, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var nanos []int64
	if err := json.Unmarshal([]byte(s), &nanos); err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: decode retry delays %q: %w", s, err)
	}
	delays := make([]time.Duration, len(nanos))
	for i, n := range nanos {
		delays[i] = time.Duration(n)
	}
	return delays, nil
}

// ── nullable id and lease columns ────────────────────────────────

func idOrNil(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

func leaseOwner(l *job.Lease) *string {
	if l == nil {
		return nil
	}
	s := l.Owner.String()
	return &s
}

func leaseExpiresNanos(l *job.Lease) *int64 {
	if l == nil {
		return nil
	}
	n := l.ExpiresAt.UnixNano()
	return &n
}

func scanLease(owner *string, expires *int64) (*job.Lease, error) {
	if owner == nil || expires == nil {
		return nil, nil
	}
	parsed, err := id.ParseNodeID(*owner)
	if err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse lease owner %q: %w", *owner, err)
	}
	return &job.Lease{Owner: parsed, ExpiresAt: nanosToTime(*expires)}, nil
}
