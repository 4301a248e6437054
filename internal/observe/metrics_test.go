package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordExecution(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordExecution(ctx, "p1", "completed", 12*time.Millisecond)
	m.RecordExecution(ctx, "p1", "completed", 30*time.Millisecond)
	m.RecordExecution(ctx, "p1", "cancelled", 0)

	rm := collect(t, reader)

	met := findMetric(rm, "voxgraph.pipeline.executions")
	if met == nil {
		t.Fatal("executions counter not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("executions is not an int64 sum")
	}
	// One series per status value.
	if len(sum.DataPoints) != 2 {
		t.Fatalf("executions has %d series, want 2", len(sum.DataPoints))
	}

	met = findMetric(rm, "voxgraph.pipeline.execution.duration")
	if met == nil {
		t.Fatal("duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration is not a histogram")
	}
	var samples uint64
	for _, dp := range hist.DataPoints {
		samples += dp.Count
	}
	if samples != 3 {
		t.Errorf("duration sample count = %d, want 3", samples)
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(attribute.String("pipeline_id", "p1"))
	m.DataTransfers.Add(ctx, 1, attrs)
	m.DataTransfers.Add(ctx, 1, attrs)
	m.TransportMessages.Add(ctx, 1, attrs)

	rm := collect(t, reader)

	met := findMetric(rm, "voxgraph.connection.transfers")
	if met == nil {
		t.Fatal("transfers counter not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("transfers = %d, want 2", got)
	}

	met = findMetric(rm, "voxgraph.transport.messages")
	if met == nil {
		t.Fatal("messages counter not found")
	}
	sum = met.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(attribute.String("pipeline_id", "p1"))
	m.ActiveStreams.Add(ctx, 1, attrs)
	m.ActiveStreams.Add(ctx, 1, attrs)
	m.ActiveStreams.Add(ctx, -1, attrs)

	rm := collect(t, reader)
	met := findMetric(rm, "voxgraph.streaming.active")
	if met == nil {
		t.Fatal("gauge not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
