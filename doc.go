// Package tickerq is a background-job scheduling and execution engine for Go.
// It accepts jobs that fire once at a specific instant (time jobs) or
// repeatedly on a cron schedule (cron definitions materialized into
// occurrences), persists them, and dispatches due work to a bounded worker
// pool under priority and lease-based multi-node coordination.
//
// TickerQ is designed as a library, not a service. Import it, configure a
// store, register functions, and start the dispatcher.
//
// # Quick Start
//
//	d, err := tickerq.New(
//	    tickerq.WithStore(pgStore),
//	    tickerq.WithConcurrency(20),
//	)
//
// # Architecture
//
// Each subsystem (job, cron, cluster, dlq) defines its own store interface
// and a single backend implements all of them. Cross-node mutual exclusion
// is expressed entirely as conditional updates against the shared store:
// a job is claimed by atomically acquiring a time-bounded lease, and every
// completion write is fenced on still owning that lease. There is no
// central lock service and no leader election.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package tickerq
