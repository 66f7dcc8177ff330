package redis

import (
	"fmt"
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// ── time fields (unix milliseconds, 0 = unset) ───────────────────

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timePtrToMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func millisToTimePtr(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// ── retry delay fields (nanoseconds) ─────────────────────────────

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

// ── id and lease fields ──────────────────────────────────────────

func idStr(v id.ID) string {
	if v.IsNil() {
		return ""
	}
	return v.String()
}

func leaseOwnerStr(l *job.Lease) string {
	if l == nil {
		return ""
	}
	return l.Owner.String()
}

func leaseExpiresMillis(l *job.Lease) int64 {
	if l == nil {
		return 0
	}
	return l.ExpiresAt.UnixMilli()
}

func decodeLease(owner string, expires int64) (*job.Lease, error) {
	if owner == "" {
		return nil, nil
	}
	parsed, err := id.ParseNodeID(owner)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse lease owner %q: %w", owner, err)
	}
	return &job.Lease{Owner: parsed, ExpiresAt: millisToTime(expires)}, nil
}

// slotField builds the occurrence-uniqueness hash field for a
// definition and slot instant.
func slotField(defID string, slotMillis int64) string {
	return fmt.Sprintf("%s|%d", defID, slotMillis)
}
