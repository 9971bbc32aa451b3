package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpan_RecordsRunSpan(t *testing.T) {
	exp := newSpanRecorder(t)

	_, span := StartSpan(context.Background(), "pipeline.run")
	if !span.SpanContext().IsValid() {
		t.Fatal("run span context should be valid")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "pipeline.run" {
		t.Errorf("span name = %q, want pipeline.run", spans[0].Name)
	}
}

func TestStartSpan_InferenceNestsUnderRun(t *testing.T) {
	exp := newSpanRecorder(t)

	runCtx, runSpan := StartSpan(context.Background(), "pipeline.run")
	_, callSpan := StartSpan(runCtx, "engine.enhance")
	callSpan.End()
	runSpan.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	// Export order is end order: the inference call first.
	call, run := spans[0], spans[1]
	if call.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("engine.enhance should be a child of pipeline.run")
	}
	if call.SpanContext.TraceID() != run.SpanContext.TraceID() {
		t.Error("both spans should share the run's trace")
	}
}

func TestLogger_TiesLogsToRunSpan(t *testing.T) {
	newSpanRecorder(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, span := StartSpan(context.Background(), "pipeline.run")
	defer span.End()

	Logger(ctx).Warn("retrying segment", "segment", 2)

	out := buf.String()
	wantTrace := span.SpanContext().TraceID().String()
	if !strings.Contains(out, "trace_id="+wantTrace) {
		t.Errorf("log line missing trace_id %s: %s", wantTrace, out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %s", out)
	}
	if !strings.Contains(out, "segment=2") {
		t.Errorf("log line missing caller attributes: %s", out)
	}
}

func TestLogger_PlainOutsideRun(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Logger(context.Background()).Info("no active run")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Errorf("log line should not carry trace_id without a span: %s", out)
	}
}
