package worker

import (
	"context"
	"time"

	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/job"
)

// Task is a claimed unit of work handed to the pool: either a time job or
// a cron occurrence, wrapped with its lease-fenced persistence
// transitions. The scheduler package provides the implementations; the
// pool and executor never see the concrete entity.
//
// All transition methods return ok=false when this node's lease was lost
// and the write was discarded. That is not an error: the reclaiming node
// owns the entity's state and the local result is dropped (documented
// dual-execution race; handlers must be idempotent).
type Task interface {
	// Info returns a read-only snapshot for hooks, logging, and
	// middleware.
	Info() ext.TaskInfo

	// RetryPolicy returns the task's retry policy.
	RetryPolicy() job.RetryPolicy

	// Complete marks the task Done and releases the lease.
	Complete(ctx context.Context) (bool, error)

	// Reschedule marks the task Queued due at the given instant,
	// increments the attempt counter, records the triggering error, and
	// releases the lease. Used for retries after a handler failure.
	Reschedule(ctx context.Context, at time.Time, taskErr error) (bool, error)

	// Return gives the task back unexecuted: Queued at the given
	// instant, lease released, attempt counter untouched. Used when a
	// throttle refuses the task.
	Return(ctx context.Context, at time.Time) (bool, error)

	// Fail marks the task permanently Failed with the final error and
	// releases the lease.
	Fail(ctx context.Context, taskErr error) (bool, error)

	// Cancel marks the task Cancelled with a reason and releases the
	// lease. Cancellation does not consume a retry attempt.
	Cancel(ctx context.Context, reason string) (bool, error)

	// RenewLease extends this node's lease by ttl. ok=false means the
	// lease was lost and the running handler should be aborted.
	RenewLease(ctx context.Context, ttl time.Duration) (bool, error)

	// Archive pushes the task's final failure to the dead letter queue.
	Archive(ctx context.Context, taskErr error) error

	// OnTerminal notifies interested parties (the batch coordinator)
	// that the task reached a terminal state.
	OnTerminal(ctx context.Context)
}
