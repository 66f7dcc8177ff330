package ext

import (
	"context"
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// TaskKind identifies what kind of work a TaskInfo describes.
type TaskKind string

const (
	// KindJob is a time job.
	KindJob TaskKind = "job"
	// KindOccurrence is a materialized cron firing.
	KindOccurrence TaskKind = "occurrence"
)

// TaskInfo is a read-only snapshot of executing work, covering both time
// jobs and cron occurrences. Hooks receive it instead of the mutable
// entity so extensions cannot race with the executor.
type TaskInfo struct {
	ID       id.ID         `json:"id"`
	Kind     TaskKind      `json:"kind"`
	Function string        `json:"function"`
	Priority job.Priority  `json:"priority"`
	Attempt  int           `json:"attempt"`
	Payload  []byte        `json:"payload,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// JobScheduled is called after a time job is accepted for scheduling.
type JobScheduled interface {
	OnJobScheduled(ctx context.Context, j *job.Job) error
}

// TaskStarted is called when a node begins executing a task.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t TaskInfo) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t TaskInfo, elapsed time.Duration) error
}

// TaskRetrying is called when a task fails but is rescheduled for retry.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t TaskInfo, attempt int, nextAt time.Time) error
}

// TaskFailed is called when a task fails permanently (retry budget
// exhausted or function not registered). This is the engine's pluggable
// exception-handling surface: it fires exactly once per task with the
// final error and the task context.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t TaskInfo, err error) error
}

// TaskCancelled is called when a task's execution is cancelled.
type TaskCancelled interface {
	OnTaskCancelled(ctx context.Context, t TaskInfo, reason string) error
}

// TaskDLQ is called when a task is archived in the dead letter queue.
type TaskDLQ interface {
	OnTaskDLQ(ctx context.Context, t TaskInfo, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Convenience adapters
// ──────────────────────────────────────────────────

// ExceptionHandlerFunc adapts a plain function into an Extension that
// receives permanent failures. This is the simplest way to plug in an
// external alerting collaborator.
type ExceptionHandlerFunc func(ctx context.Context, t TaskInfo, err error) error

// Name implements Extension.
func (f ExceptionHandlerFunc) Name() string { return "exception-handler" }

// OnTaskFailed implements TaskFailed.
func (f ExceptionHandlerFunc) OnTaskFailed(ctx context.Context, t TaskInfo, err error) error {
	return f(ctx, t, err)
}
