package tickerq

import "time"

// Config holds engine configuration. All values are fixed at startup and
// immutable for the lifetime of the process.
type Config struct {
	// Concurrency is the maximum number of jobs executed concurrently.
	Concurrency int

	// LeaseDuration is how long a claimed job is owned before the lease
	// expires and the job becomes claimable by another node. It must
	// comfortably exceed expected execution time; long-running handlers
	// are covered by lease heartbeats.
	LeaseDuration time.Duration

	// HeartbeatInterval is how often leases on running jobs are renewed.
	HeartbeatInterval time.Duration

	// GenerationHorizon is how far ahead cron occurrences are materialized.
	GenerationHorizon time.Duration

	// GenerationMax caps the number of occurrences materialized per
	// definition in a single refresh.
	GenerationMax int

	// PollBatchSize is the maximum number of due candidates fetched per
	// dispatch cycle.
	PollBatchSize int

	// ShutdownTimeout is the maximum time to wait for in-flight jobs to
	// drain on Stop before cancelling the remainder.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		LeaseDuration:     1 * time.Minute,
		HeartbeatInterval: 15 * time.Second,
		GenerationHorizon: 10 * time.Minute,
		GenerationMax:     100,
		PollBatchSize:     50,
		ShutdownTimeout:   30 * time.Second,
	}
}
