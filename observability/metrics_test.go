package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/observability"
)

func testTask() ext.TaskInfo {
	return ext.TaskInfo{
		ID:       id.NewJobID(),
		Kind:     ext.KindJob,
		Function: "sync-accounts",
		Priority: job.PriorityNormal,
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data = %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtensionCountsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	ctx := context.Background()
	task := testTask()
	taskErr := errors.New("handler failed")

	j := &job.Job{ID: id.NewJobID(), Function: "sync-accounts", Priority: job.PriorityNormal}
	if err := m.OnJobScheduled(ctx, j); err != nil {
		t.Fatalf("OnJobScheduled: %v", err)
	}
	if err := m.OnTaskStarted(ctx, task); err != nil {
		t.Fatalf("OnTaskStarted: %v", err)
	}
	if err := m.OnTaskCompleted(ctx, task, time.Second); err != nil {
		t.Fatalf("OnTaskCompleted: %v", err)
	}
	if err := m.OnTaskRetrying(ctx, task, 1, time.Now()); err != nil {
		t.Fatalf("OnTaskRetrying: %v", err)
	}
	if err := m.OnTaskFailed(ctx, task, taskErr); err != nil {
		t.Fatalf("OnTaskFailed: %v", err)
	}
	if err := m.OnTaskCancelled(ctx, task, "shutdown"); err != nil {
		t.Fatalf("OnTaskCancelled: %v", err)
	}
	if err := m.OnTaskDLQ(ctx, task, taskErr); err != nil {
		t.Fatalf("OnTaskDLQ: %v", err)
	}

	for _, name := range []string{
		"tickerq.jobs.scheduled",
		"tickerq.tasks.started",
		"tickerq.tasks.completed",
		"tickerq.tasks.retries",
		"tickerq.tasks.failed",
		"tickerq.tasks.cancelled",
		"tickerq.dlq.entries",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s = %d, want 1", name, got)
		}
	}
}

func TestMetricsExtensionRegistersHooks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	reg := ext.NewRegistry(nil)
	reg.Register(m)

	reg.EmitTaskStarted(context.Background(), testTask())
	if got := counterValue(t, reader, "tickerq.tasks.started"); got != 1 {
		t.Fatalf("tickerq.tasks.started = %d, want 1", got)
	}
}

func TestMetricsExtensionDefaultNoopSafe(t *testing.T) {
	// Without a global MeterProvider every hook must be a harmless noop.
	m := observability.NewMetricsExtension()
	if err := m.OnTaskStarted(context.Background(), testTask()); err != nil {
		t.Fatalf("OnTaskStarted: %v", err)
	}
}
