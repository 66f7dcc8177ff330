package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joe10832/TickerQ/ext"
)

// tracerName is the instrumentation scope name for tickerq tracing.
const tracerName = "github.com/joe10832/TickerQ"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: tickerq.task.id, tickerq.function,
// tickerq.kind, tickerq.attempt. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t ext.TaskInfo, next Handler) error {
		ctx, span := tracer.Start(ctx, "tickerq.task.execute",
			trace.WithAttributes(
				attribute.String("tickerq.task.id", t.ID.String()),
				attribute.String("tickerq.function", t.Function),
				attribute.String("tickerq.kind", string(t.Kind)),
				attribute.Int("tickerq.attempt", t.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
