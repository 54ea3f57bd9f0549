// Package observe provides application-wide observability primitives for
// uttercap: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all uttercap metrics.
const meterName = "github.com/MrWong99/uttercap"

// Segment outcomes recorded by [Metrics.RecordSegment].
const (
	OutcomeDelivered    = "delivered"
	OutcomeEmpty        = "empty"
	OutcomeDecodeFailed = "decode_failed"
	OutcomeRenderFailed = "render_failed"
	OutcomeSinkFailed   = "sink_failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// AnalysisTicks counts analysis ticks. Use with attribute:
	//   attribute.String("event", ...)
	AnalysisTicks metric.Int64Counter

	// VoiceEnergy records the voice-band energy observed on each tick.
	VoiceEnergy metric.Float64Histogram

	// CaptureActive tracks whether a capture stream is currently open.
	CaptureActive metric.Int64UpDownCounter

	// --- Segments ---

	// Segments counts finalised segments by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	Segments metric.Int64Counter

	// SegmentDuration records the captured length of each finalised segment.
	SegmentDuration metric.Float64Histogram

	// RenderDuration tracks offline render + encode latency.
	RenderDuration metric.Float64Histogram

	// --- Sinks ---

	// SinkDeliveries counts sink deliveries. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	SinkDeliveries metric.Int64Counter

	// SinkDuration tracks sink delivery latency. Use with attribute:
	//   attribute.String("sink", ...)
	SinkDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for render
// and delivery latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// energyBuckets covers the 0..255 byte scale used for silence thresholds.
var energyBuckets = []float64{
	1, 2, 5, 10, 20, 40, 80, 120, 160, 200, 255,
}

// segmentBuckets covers typical utterance lengths in seconds.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.AnalysisTicks, err = m.Int64Counter("uttercap.analysis.ticks",
		metric.WithDescription("Total analysis ticks by detector event."),
	); err != nil {
		return nil, err
	}
	if met.VoiceEnergy, err = m.Float64Histogram("uttercap.analysis.voice_energy",
		metric.WithDescription("Voice-band energy observed per analysis tick."),
		metric.WithExplicitBucketBoundaries(energyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureActive, err = m.Int64UpDownCounter("uttercap.capture.active",
		metric.WithDescription("Number of open capture streams."),
	); err != nil {
		return nil, err
	}

	// Segments.
	if met.Segments, err = m.Int64Counter("uttercap.segments",
		metric.WithDescription("Total finalised segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("uttercap.segment.duration",
		metric.WithDescription("Captured length of finalised segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("uttercap.render.duration",
		metric.WithDescription("Latency of offline rendering and PCM encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Sinks.
	if met.SinkDeliveries, err = m.Int64Counter("uttercap.sink.deliveries",
		metric.WithDescription("Total sink deliveries by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.SinkDuration, err = m.Float64Histogram("uttercap.sink.duration",
		metric.WithDescription("Latency of sink deliveries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("uttercap.http.request.duration",
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

// RecordTick records one analysis tick with its detector event and energy.
func (m *Metrics) RecordTick(ctx context.Context, event string, energy float64) {
	m.AnalysisTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	m.VoiceEnergy.Record(ctx, energy)
}

// RecordCaptureActive adjusts the open-stream gauge by delta (+1 on open, -1
// on close).
func (m *Metrics) RecordCaptureActive(ctx context.Context, delta int64) {
	m.CaptureActive.Add(ctx, delta)
}

// RecordSegment records a finalised segment outcome and, when known, its
// captured duration in seconds. Pass a negative duration to skip the
// histogram.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string, seconds float64) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if seconds >= 0 {
		m.SegmentDuration.Record(ctx, seconds)
	}
}

// RecordSinkDelivery records one sink delivery with its latency. status is
// "ok" when err is nil and "error" otherwise.
func (m *Metrics) RecordSinkDelivery(ctx context.Context, sink string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkDeliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
	m.SinkDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("sink", sink)))
}
