package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the capa tracer.
const tracerName = "github.com/MrWong99/capa"

// Tracer returns the capa [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. End it with [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartOperation starts the span of one post-processing operation on the
// recording at path. The multiplex runs it performs become child spans.
func StartOperation(ctx context.Context, operation, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "capa."+operation, trace.WithAttributes(
		attribute.String("capa.operation", operation),
		attribute.String("capa.path", path),
	))
}

// EndSpan records err on span (if non-nil), sets the span status and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RunID returns the trace ID of the active span in ctx, or "" without one.
// A command starts one root span, so every log line of a run carries the
// same trace_id and /status reports it as run_id.
func RunID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is [LoggerFrom] with the default logger.
func Logger(ctx context.Context) *slog.Logger {
	return LoggerFrom(ctx, slog.Default())
}

// LoggerFrom returns base enriched with trace_id and span_id from the span
// in ctx. Without an active span base is returned as is.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return base.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return base
}
