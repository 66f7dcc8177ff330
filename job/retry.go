package job

import "time"

// RetryPolicy bounds how many times a failed job is rescheduled and the
// delay before each attempt.
type RetryPolicy struct {
	// MaxRetries is the number of reschedules after the initial failure.
	// Zero means the job fails permanently on its first error.
	MaxRetries int `json:"max_retries"`

	// Delays holds one backoff delay per retry attempt. When attempts
	// outnumber the sequence, the last delay repeats; the policy never
	// hard-fails past the array bounds.
	Delays []time.Duration `json:"delays,omitempty"`
}

// DefaultRetryPolicy returns the engine default: three retries at
// 30s, 1m, 5m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Delays:     []time.Duration{30 * time.Second, time.Minute, 5 * time.Minute},
	}
}

// Exhausted reports whether a job that has already failed attempt times
// (0-indexed) is out of retries.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// Delay returns the backoff before retry attempt (0-indexed). An empty
// delay sequence retries immediately.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	if attempt < 0 {
		return p.Delays[0]
	}
	return p.Delays[attempt]
}
