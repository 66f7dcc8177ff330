package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/middleware"
)

// Executor runs a single claimed task end to end: handler resolution,
// middleware, and the terminal state transition (complete, retry, fail,
// or cancel). It is stateless and shared by all pool slots.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	chain      middleware.Middleware
	logger     *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewExecutor creates an executor. chain may be nil, in which case
// handlers run bare.
func NewExecutor(registry *job.Registry, extensions *ext.Registry, chain middleware.Middleware, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		chain:      chain,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs the task to a terminal or requeued state. The context
// carries cancellation from the pool: a cancelled context aborts the
// handler and records the task as Cancelled rather than Failed.
//
// Persistence writes after the handler returns use a background context
// so a cancelled execution can still record its outcome.
func (e *Executor) Execute(ctx context.Context, t Task) {
	info := t.Info()

	entry, ok := e.registry.Get(info.Function)
	if !ok {
		// No retry can fix a missing handler.
		e.failPermanently(t, info, fmt.Errorf("%w: %q", tickerq.ErrFunctionNotRegistered, info.Function))
		return
	}
	if info.Timeout == 0 {
		info.Timeout = entry.Opts.Timeout
	}

	e.extensions.EmitTaskStarted(ctx, info)
	start := e.now()

	err := e.run(ctx, entry, info)
	elapsed := e.now().Sub(start)

	if err == nil {
		ok, storeErr := t.Complete(context.Background())
		if storeErr != nil {
			e.logger.Error("record task completion",
				slog.String("task", info.ID.String()),
				slog.String("error", storeErr.Error()),
			)
			return
		}
		if !ok {
			// Lease lost mid-execution; another node owns the state now
			// and this result is dropped.
			e.logger.Warn("task result discarded, lease lost",
				slog.String("task", info.ID.String()),
				slog.String("function", info.Function),
			)
			return
		}
		e.extensions.EmitTaskCompleted(context.Background(), info, elapsed)
		t.OnTerminal(context.Background())
		return
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		e.cancel(t, info, "execution cancelled")
		return
	}

	e.handleFailure(t, info, err)
}

// run invokes the handler through the middleware chain.
func (e *Executor) run(ctx context.Context, entry *job.Entry, info ext.TaskInfo) error {
	terminal := func(hctx context.Context) error {
		return entry.Handler(hctx, info.Payload)
	}
	if e.chain == nil {
		return terminal(ctx)
	}
	return e.chain(ctx, info, terminal)
}

// handleFailure applies the retry policy: requeue with the configured
// delay while attempts remain, otherwise fail permanently.
func (e *Executor) handleFailure(t Task, info ext.TaskInfo, taskErr error) {
	policy := t.RetryPolicy()
	attempt := info.Attempt

	if policy.Exhausted(attempt) {
		e.failPermanently(t, info, taskErr)
		return
	}

	nextAt := e.now().Add(policy.Delay(attempt))
	ok, storeErr := t.Reschedule(context.Background(), nextAt, taskErr)
	if storeErr != nil {
		e.logger.Error("reschedule task for retry",
			slog.String("task", info.ID.String()),
			slog.String("error", storeErr.Error()),
		)
		return
	}
	if !ok {
		e.logger.Warn("retry discarded, lease lost",
			slog.String("task", info.ID.String()),
		)
		return
	}

	e.logger.Info("task retrying",
		slog.String("task", info.ID.String()),
		slog.String("function", info.Function),
		slog.Int("attempt", attempt+1),
		slog.Time("next_at", nextAt),
		slog.String("error", taskErr.Error()),
	)
	e.extensions.EmitTaskRetrying(context.Background(), info, attempt+1, nextAt)
}

// failPermanently records the terminal failure, archives the task to the
// dead letter queue, and fires the failure hooks exactly once.
func (e *Executor) failPermanently(t Task, info ext.TaskInfo, taskErr error) {
	ok, storeErr := t.Fail(context.Background(), taskErr)
	if storeErr != nil {
		e.logger.Error("record task failure",
			slog.String("task", info.ID.String()),
			slog.String("error", storeErr.Error()),
		)
		return
	}
	if !ok {
		e.logger.Warn("failure discarded, lease lost",
			slog.String("task", info.ID.String()),
		)
		return
	}

	e.logger.Error("task failed permanently",
		slog.String("task", info.ID.String()),
		slog.String("function", info.Function),
		slog.Int("attempts", info.Attempt+1),
		slog.String("error", taskErr.Error()),
	)

	if archiveErr := t.Archive(context.Background(), taskErr); archiveErr != nil {
		e.logger.Error("archive task to dead letter queue",
			slog.String("task", info.ID.String()),
			slog.String("error", archiveErr.Error()),
		)
	} else {
		e.extensions.EmitTaskDLQ(context.Background(), info, taskErr)
	}

	e.extensions.EmitTaskFailed(context.Background(), info, taskErr)
	t.OnTerminal(context.Background())
}

// cancel records a cancelled execution. Cancellation is terminal but
// consumes no retry attempt.
func (e *Executor) cancel(t Task, info ext.TaskInfo, reason string) {
	ok, storeErr := t.Cancel(context.Background(), reason)
	if storeErr != nil {
		e.logger.Error("record task cancellation",
			slog.String("task", info.ID.String()),
			slog.String("error", storeErr.Error()),
		)
		return
	}
	if !ok {
		return
	}
	e.extensions.EmitTaskCancelled(context.Background(), info, reason)
	t.OnTerminal(context.Background())
}
