package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/joe10832/TickerQ/ext"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so a
// panicking handler is treated as an ordinary handler failure and routed
// through the retry policy.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t ext.TaskInfo, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("task handler panicked",
					slog.String("function", t.Function),
					slog.String("task_id", t.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in function %s: %v", t.Function, r)
			}
		}()
		return next(ctx)
	}
}
