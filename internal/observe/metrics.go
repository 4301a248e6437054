// Package observe provides application-wide observability primitives for
// Voxgraph: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxgraph metrics.
const meterName = "github.com/voxgraph/voxgraph"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ExecutionDuration tracks the wall time of one propagation pass. Use
	// with attributes:
	//   attribute.String("pipeline_id", ...), attribute.String("status", ...)
	ExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Executions counts propagation passes. Use with attributes:
	//   attribute.String("pipeline_id", ...), attribute.String("status", ...)
	Executions metric.Int64Counter

	// DataTransfers counts payload deliveries across connections. Use with
	// attribute: attribute.String("pipeline_id", ...)
	DataTransfers metric.Int64Counter

	// NodesDriven counts entry points driven by the scheduler. Use with
	// attribute: attribute.String("pipeline_id", ...)
	NodesDriven metric.Int64Counter

	// TransportMessages counts frames received by transport nodes. Use with
	// attribute: attribute.String("pipeline_id", ...)
	TransportMessages metric.Int64Counter

	// TransportStateChanges counts socket state transitions. Use with
	// attributes:
	//   attribute.String("pipeline_id", ...), attribute.String("transition", ...)
	TransportStateChanges metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of streaming nodes currently running.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time audio propagation passes.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ExecutionDuration, err = m.Float64Histogram("voxgraph.pipeline.execution.duration",
		metric.WithDescription("Wall time of one propagation pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Executions, err = m.Int64Counter("voxgraph.pipeline.executions",
		metric.WithDescription("Total propagation passes by pipeline and status."),
	); err != nil {
		return nil, err
	}
	if met.DataTransfers, err = m.Int64Counter("voxgraph.connection.transfers",
		metric.WithDescription("Total payload deliveries across connections."),
	); err != nil {
		return nil, err
	}
	if met.NodesDriven, err = m.Int64Counter("voxgraph.node.driven",
		metric.WithDescription("Total entry points driven by the scheduler."),
	); err != nil {
		return nil, err
	}
	if met.TransportMessages, err = m.Int64Counter("voxgraph.transport.messages",
		metric.WithDescription("Total frames received by transport nodes."),
	); err != nil {
		return nil, err
	}
	if met.TransportStateChanges, err = m.Int64Counter("voxgraph.transport.state_changes",
		metric.WithDescription("Total socket state transitions by transition."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxgraph.streaming.active",
		metric.WithDescription("Number of streaming nodes currently running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgraph.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordExecution is a convenience method that records one finished pass:
// counter increment plus latency sample, both tagged with the pipeline ID and
// outcome status.
func (m *Metrics) RecordExecution(ctx context.Context, pipelineID, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("pipeline_id", pipelineID),
		attribute.String("status", status),
	)
	m.Executions.Add(ctx, 1, attrs)
	m.ExecutionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordTransportTransition records one socket state change.
func (m *Metrics) RecordTransportTransition(ctx context.Context, pipelineID, transition string) {
	m.TransportStateChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("pipeline_id", pipelineID),
			attribute.String("transition", transition),
		),
	)
}
