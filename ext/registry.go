package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joe10832/TickerQ/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobScheduledEntry struct {
	name string
	hook JobScheduled
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskRetryingEntry struct {
	name string
	hook TaskRetrying
}

type taskFailedEntry struct {
	name string
	hook TaskFailed
}

type taskCancelledEntry struct {
	name string
	hook TaskCancelled
}

type taskDLQEntry struct {
	name string
	hook TaskDLQ
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobScheduled  []jobScheduledEntry
	taskStarted   []taskStartedEntry
	taskCompleted []taskCompletedEntry
	taskRetrying  []taskRetryingEntry
	taskFailed    []taskFailedEntry
	taskCancelled []taskCancelledEntry
	taskDLQ       []taskDLQEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobScheduled); ok {
		r.jobScheduled = append(r.jobScheduled, jobScheduledEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskRetrying); ok {
		r.taskRetrying = append(r.taskRetrying, taskRetryingEntry{name, h})
	}
	if h, ok := e.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, taskFailedEntry{name, h})
	}
	if h, ok := e.(TaskCancelled); ok {
		r.taskCancelled = append(r.taskCancelled, taskCancelledEntry{name, h})
	}
	if h, ok := e.(TaskDLQ); ok {
		r.taskDLQ = append(r.taskDLQ, taskDLQEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitJobScheduled notifies all extensions that implement JobScheduled.
func (r *Registry) EmitJobScheduled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobScheduled {
		r.safeCall("OnJobScheduled", e.name, func() error {
			return e.hook.OnJobScheduled(ctx, j)
		})
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t TaskInfo) {
	for _, e := range r.taskStarted {
		r.safeCall("OnTaskStarted", e.name, func() error {
			return e.hook.OnTaskStarted(ctx, t)
		})
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t TaskInfo, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		r.safeCall("OnTaskCompleted", e.name, func() error {
			return e.hook.OnTaskCompleted(ctx, t, elapsed)
		})
	}
}

// EmitTaskRetrying notifies all extensions that implement TaskRetrying.
func (r *Registry) EmitTaskRetrying(ctx context.Context, t TaskInfo, attempt int, nextAt time.Time) {
	for _, e := range r.taskRetrying {
		r.safeCall("OnTaskRetrying", e.name, func() error {
			return e.hook.OnTaskRetrying(ctx, t, attempt, nextAt)
		})
	}
}

// EmitTaskFailed notifies all extensions that implement TaskFailed.
// The executor calls this exactly once per permanently failed task.
func (r *Registry) EmitTaskFailed(ctx context.Context, t TaskInfo, taskErr error) {
	for _, e := range r.taskFailed {
		r.safeCall("OnTaskFailed", e.name, func() error {
			return e.hook.OnTaskFailed(ctx, t, taskErr)
		})
	}
}

// EmitTaskCancelled notifies all extensions that implement TaskCancelled.
func (r *Registry) EmitTaskCancelled(ctx context.Context, t TaskInfo, reason string) {
	for _, e := range r.taskCancelled {
		r.safeCall("OnTaskCancelled", e.name, func() error {
			return e.hook.OnTaskCancelled(ctx, t, reason)
		})
	}
}

// EmitTaskDLQ notifies all extensions that implement TaskDLQ.
func (r *Registry) EmitTaskDLQ(ctx context.Context, t TaskInfo, taskErr error) {
	for _, e := range r.taskDLQ {
		r.safeCall("OnTaskDLQ", e.name, func() error {
			return e.hook.OnTaskDLQ(ctx, t, taskErr)
		})
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.safeCall("OnShutdown", e.name, func() error {
			return e.hook.OnShutdown(ctx)
		})
	}
}

// safeCall runs a hook, converting panics to errors and logging any
// failure. Hook failures never propagate to the scheduler loop.
func (r *Registry) safeCall(hook, extension string, fn func() error) {
	err := func() (retErr error) {
		defer func() {
			if p := recover(); p != nil {
				retErr = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn()
	}()
	if err != nil {
		r.logger.Error("extension hook error",
			slog.String("hook", hook),
			slog.String("extension", extension),
			slog.String("error", err.Error()),
		)
	}
}
