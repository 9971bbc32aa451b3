package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all Lucent spans.
const tracerName = "github.com/lucentaudio/lucent"

// Tracer returns the Lucent [trace.Tracer] from the globally registered
// provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under any span already in ctx. The pipeline opens
// one span per run ("pipeline.run"); engine clients may open child spans for
// individual inference calls. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Logger returns the default [slog.Logger] enriched with the trace and span
// IDs from ctx, so retry warnings and per-segment logs emitted inside a run
// can be tied back to its span. Without an active span it returns the
// default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
