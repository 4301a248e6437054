package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Recorder drains a pipeline's event feed into metric instruments. The core
// packages stay telemetry-free; this is the only place graph events and OTel
// meet.
type Recorder struct {
	metrics *Metrics
}

// NewRecorder returns a Recorder writing into m. When m is nil the package
// default instance is used.
func NewRecorder(m *Metrics) *Recorder {
	if m == nil {
		m = DefaultMetrics()
	}
	return &Recorder{metrics: m}
}

// Watch subscribes to p's event feed and records events until ctx is
// cancelled or the feed closes. It returns immediately; draining happens on a
// background goroutine.
func (r *Recorder) Watch(ctx context.Context, p *pipeline.Pipeline) {
	events := p.Subscribe(256)
	go r.Run(ctx, events)
}

// Run records events from the channel until ctx is cancelled or the channel
// closes. Most callers want [Recorder.Watch]; Run is exported so tests and
// custom fan-in setups can drive the recorder directly.
func (r *Recorder) Run(ctx context.Context, events <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev pipeline.Event) {
	pipelineAttr := metric.WithAttributes(attribute.String("pipeline_id", ev.PipelineID))

	switch ev.Kind {
	case pipeline.EventExecutionCompleted:
		status := "completed"
		if ev.Detail == "failed" {
			status = "failed"
		}
		r.metrics.RecordExecution(ctx, ev.PipelineID, status, ev.Elapsed)
	case pipeline.EventExecutionCancelled:
		r.metrics.RecordExecution(ctx, ev.PipelineID, "cancelled", ev.Elapsed)
	case pipeline.EventDataTransferred:
		r.metrics.DataTransfers.Add(ctx, 1, pipelineAttr)
	case pipeline.EventNodeProcessing:
		r.metrics.NodesDriven.Add(ctx, 1, pipelineAttr)
	case pipeline.EventStreamingStarted:
		r.metrics.ActiveStreams.Add(ctx, 1, pipelineAttr)
	case pipeline.EventStreamingStopped:
		r.metrics.ActiveStreams.Add(ctx, -1, pipelineAttr)
	case pipeline.EventTransportState:
		r.metrics.RecordTransportTransition(ctx, ev.PipelineID, ev.Detail)
	case pipeline.EventMessageReceived:
		r.metrics.TransportMessages.Add(ctx, 1, pipelineAttr)
	}
}
