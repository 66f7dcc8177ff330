// Package store defines the composite persistence interface an engine
// deployment plugs in. Backends live in subpackages: memory (tests and
// single-process use), postgres, sqlite, and redis.
package store

import (
	"context"

	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/job"
)

// Store composes every subsystem's persistence contract plus backend
// lifecycle. The claim and owned-update operations must be atomic
// compare-and-swap writes; everything else is plain CRUD.
type Store interface {
	job.Store
	cron.Store
	dlq.Store
	cluster.Store

	// Migrate creates or upgrades the backend schema.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
