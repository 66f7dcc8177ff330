package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/joe10832/TickerQ/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// statusAttr extracts the status attribute from the first data point.
func statusAttr(dp metricdata.DataPoint[int64]) string {
	for _, a := range dp.Attributes.ToSlice() {
		if string(a.Key) == "status" {
			return a.Value.AsString()
		}
	}
	return ""
}

func TestMetricsRecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), testTask(), func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "tickerq.task.duration")
	if metric == nil {
		t.Fatal("tickerq.task.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data = %T, want Histogram[float64]", metric.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no duration data points recorded")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Fatalf("duration count = %d, want 1", hist.DataPoints[0].Count)
	}
}

func TestMetricsCountsSuccess(t *testing.T) {
	reader, mp := setupTestMeter()
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	if err := m(context.Background(), testTask(), func(_ context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "tickerq.task.executions")
	if metric == nil {
		t.Fatal("tickerq.task.executions metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data = %T, want Sum[int64]", metric.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no execution data points recorded")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Fatalf("executions = %d, want 1", sum.DataPoints[0].Value)
	}
	if got := statusAttr(sum.DataPoints[0]); got != "ok" {
		t.Fatalf("status attribute = %q, want ok", got)
	}
}

func TestMetricsCountsError(t *testing.T) {
	reader, mp := setupTestMeter()
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	want := errors.New("handler failed")
	if err := m(context.Background(), testTask(), func(_ context.Context) error {
		return want
	}); !errors.Is(err, want) {
		t.Fatalf("error = %v, want handler error", err)
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "tickerq.task.executions")
	if metric == nil {
		t.Fatal("tickerq.task.executions metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data = %T, want Sum[int64]", metric.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no execution data points recorded")
	}
	if got := statusAttr(sum.DataPoints[0]); got != "error" {
		t.Fatalf("status attribute = %q, want error", got)
	}
}

func TestMetricsTaskAttributes(t *testing.T) {
	reader, mp := setupTestMeter()
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), testTask(), func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "tickerq.task.executions")
	if metric == nil {
		t.Fatal("tickerq.task.executions metric not found")
	}
	sum := metric.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) == 0 {
		t.Fatal("no execution data points recorded")
	}

	attrs := make(map[string]string)
	for _, a := range sum.DataPoints[0].Attributes.ToSlice() {
		attrs[string(a.Key)] = a.Value.AsString()
	}
	if attrs["function"] != "test-fn" {
		t.Fatalf("function attribute = %q, want test-fn", attrs["function"])
	}
	if attrs["kind"] != "job" {
		t.Fatalf("kind attribute = %q, want job", attrs["kind"])
	}
}

func TestMetricsDefaultNoopSafe(t *testing.T) {
	// Without a global MeterProvider the middleware must pass through.
	m := middleware.Metrics()

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
