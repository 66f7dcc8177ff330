package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/joe10832/TickerQ/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracingCreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := middleware.TracingWithTracer(tracer)

	err := m(context.Background(), testTask(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "tickerq.task.execute" {
		t.Fatalf("span name = %q, want tickerq.task.execute", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("span status = %v, want Ok", spans[0].Status().Code)
	}
}

func TestTracingSpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := middleware.TracingWithTracer(tracer)
	task := testTask()
	task.Attempt = 2

	_ = m(context.Background(), task, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	attrs := make(map[string]any)
	for _, a := range spans[0].Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			attrs[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			attrs[string(a.Key)] = a.Value.AsInt64()
		}
	}

	want := map[string]any{
		"tickerq.task.id":  task.ID.String(),
		"tickerq.function": "test-fn",
		"tickerq.kind":     "job",
		"tickerq.attempt":  int64(2),
	}
	for key, w := range want {
		got, ok := attrs[key]
		if !ok {
			t.Errorf("missing attribute %q", key)
			continue
		}
		if got != w {
			t.Errorf("attribute %q = %v, want %v", key, got, w)
		}
	}
}

func TestTracingErrorSetsSpanStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := middleware.TracingWithTracer(tracer)

	want := errors.New("handler failed")
	err := m(context.Background(), testTask(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want handler error", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("span status = %v, want Error", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "handler failed" {
		t.Fatalf("status description = %q", spans[0].Status().Description)
	}

	recorded := false
	for _, ev := range spans[0].Events() {
		if ev.Name == "exception" {
			recorded = true
			break
		}
	}
	if !recorded {
		t.Error("expected an exception event on the span")
	}
}

func TestTracingPropagatesSpanContext(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := middleware.TracingWithTracer(tracer)

	var handlerSpan trace.SpanContext
	_ = m(context.Background(), testTask(), func(ctx context.Context) error {
		handlerSpan = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if !handlerSpan.IsValid() {
		t.Fatal("handler should observe a valid span context")
	}
	if handlerSpan.TraceID() != spans[0].SpanContext().TraceID() {
		t.Fatal("handler trace ID does not match the middleware span")
	}
}

func TestTracingDefaultNoopSafe(t *testing.T) {
	// Without a global TracerProvider the middleware must pass through.
	m := middleware.Tracing()

	called := false
	err := m(context.Background(), testTask(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
