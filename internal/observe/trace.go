package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the uttercap tracer.
const tracerName = "github.com/MrWong99/uttercap"

type segmentKey struct{}

// Tracer returns the package-level [trace.Tracer] for uttercap. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithSegmentID returns a copy of ctx carrying the capture segment ID. Spans
// started with [StartSegmentSpan] and loggers from [Logger] pick it up.
func WithSegmentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, segmentKey{}, id)
}

// SegmentID returns the segment ID stored in ctx, or the empty string.
func SegmentID(ctx context.Context) string {
	id, _ := ctx.Value(segmentKey{}).(string)
	return id
}

// StartSegmentSpan starts a span tagged with the segment ID from ctx.
func StartSegmentSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := SegmentID(ctx); id != "" {
		attrs = append(attrs, attribute.String("segment.id", id))
	}
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx, and with segment_id when one is set. With
// neither present, the returned logger is the default slog logger.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SegmentID(ctx); id != "" {
		l = l.With(slog.String("segment_id", id))
	}
	return l
}
