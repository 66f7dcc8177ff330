package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/joe10832/TickerQ/ext"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t ext.TaskInfo, next Handler) error {
		logger.Info("task started",
			slog.String("function", t.Function),
			slog.String("task_id", t.ID.String()),
			slog.String("kind", string(t.Kind)),
			slog.Int("attempt", t.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task failed",
				slog.String("function", t.Function),
				slog.String("task_id", t.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task completed",
				slog.String("function", t.Function),
				slog.String("task_id", t.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
