// Package observability provides extensions that export engine
// lifecycle events as OpenTelemetry metrics. Unlike the middleware
// metrics, which time handler execution, these count state transitions:
// schedules, retries, permanent failures, cancellations, and dead
// letter arrivals.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/job"
)

const meterName = "github.com/joe10832/TickerQ"

// MetricsExtension exports lifecycle counters. Register it with the
// extension registry; every instrument degrades to a noop when no
// MeterProvider is configured.
type MetricsExtension struct {
	scheduled  metric.Int64Counter
	started    metric.Int64Counter
	completed  metric.Int64Counter
	retries    metric.Int64Counter
	failures   metric.Int64Counter
	cancelled  metric.Int64Counter
	deadLetter metric.Int64Counter
}

var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobScheduled  = (*MetricsExtension)(nil)
	_ ext.TaskStarted   = (*MetricsExtension)(nil)
	_ ext.TaskCompleted = (*MetricsExtension)(nil)
	_ ext.TaskRetrying  = (*MetricsExtension)(nil)
	_ ext.TaskFailed    = (*MetricsExtension)(nil)
	_ ext.TaskCancelled = (*MetricsExtension)(nil)
	_ ext.TaskDLQ       = (*MetricsExtension)(nil)
)

// NewMetricsExtension creates the extension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates the extension with an explicit
// meter, for tests and custom providers.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.scheduled, _ = meter.Int64Counter(
		"tickerq.jobs.scheduled",
		metric.WithDescription("Time jobs accepted for scheduling"),
		metric.WithUnit("{job}"),
	)
	m.started, _ = meter.Int64Counter(
		"tickerq.tasks.started",
		metric.WithDescription("Task executions started"),
		metric.WithUnit("{task}"),
	)
	m.completed, _ = meter.Int64Counter(
		"tickerq.tasks.completed",
		metric.WithDescription("Task executions completed successfully"),
		metric.WithUnit("{task}"),
	)
	m.retries, _ = meter.Int64Counter(
		"tickerq.tasks.retries",
		metric.WithDescription("Task executions rescheduled for retry"),
		metric.WithUnit("{task}"),
	)
	m.failures, _ = meter.Int64Counter(
		"tickerq.tasks.failed",
		metric.WithDescription("Tasks that failed permanently"),
		metric.WithUnit("{task}"),
	)
	m.cancelled, _ = meter.Int64Counter(
		"tickerq.tasks.cancelled",
		metric.WithDescription("Task executions cancelled"),
		metric.WithUnit("{task}"),
	)
	m.deadLetter, _ = meter.Int64Counter(
		"tickerq.dlq.entries",
		metric.WithDescription("Tasks archived to the dead letter queue"),
		metric.WithUnit("{task}"),
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "otel-metrics" }

func taskAttrs(t ext.TaskInfo) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("function", t.Function),
		attribute.String("kind", string(t.Kind)),
		attribute.String("priority", t.Priority.String()),
	)
}

// OnJobScheduled implements ext.JobScheduled.
func (m *MetricsExtension) OnJobScheduled(ctx context.Context, j *job.Job) error {
	m.scheduled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("function", j.Function),
		attribute.String("priority", j.Priority.String()),
	))
	return nil
}

// OnTaskStarted implements ext.TaskStarted.
func (m *MetricsExtension) OnTaskStarted(ctx context.Context, t ext.TaskInfo) error {
	m.started.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t ext.TaskInfo, _ time.Duration) error {
	m.completed.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskRetrying implements ext.TaskRetrying.
func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, t ext.TaskInfo, _ int, _ time.Time) error {
	m.retries.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t ext.TaskInfo, _ error) error {
	m.failures.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskCancelled implements ext.TaskCancelled.
func (m *MetricsExtension) OnTaskCancelled(ctx context.Context, t ext.TaskInfo, _ string) error {
	m.cancelled.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskDLQ implements ext.TaskDLQ.
func (m *MetricsExtension) OnTaskDLQ(ctx context.Context, t ext.TaskInfo, _ error) error {
	m.deadLetter.Add(ctx, 1, taskAttrs(t))
	return nil
}
