// Package observe provides the observability primitives for Lucent: run and
// inference metrics, spans for log correlation, and instrumentation for the
// metrics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup]
// bridges them to a Prometheus exporter so the listener's /metrics endpoint
// can be scraped during long enhancement runs. A package-level default
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

// meterName is the instrumentation scope name used for all Lucent metrics.
const meterName = "github.com/lucentaudio/lucent"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// InferenceDuration tracks one inference call against the backend,
	// excluding retries and queueing.
	InferenceDuration metric.Float64Histogram

	// SegmentDuration tracks end-to-end per-segment processing time:
	// frame extraction, all inference attempts, and handoff to the merge
	// stage.
	SegmentDuration metric.Float64Histogram

	// RunDuration tracks whole-stream processing time.
	RunDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsProcessed counts segments that completed enhancement. Use
	// with attribute: attribute.String("status", "enhanced"|"degraded")
	SegmentsProcessed metric.Int64Counter

	// SegmentsRetried counts segments that needed at least one retry.
	SegmentsRetried metric.Int64Counter

	// InferenceRetries counts individual retry attempts.
	InferenceRetries metric.Int64Counter

	// EngineRequests counts backend calls. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineRequests metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts backend errors. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("kind", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of streams currently being processed.
	ActiveRuns metric.Int64UpDownCounter

	// InFlightSegments tracks segments currently inside the worker pool.
	InFlightSegments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("lucent.inference.duration",
		metric.WithDescription("Latency of a single backend inference call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("lucent.segment.duration",
		metric.WithDescription("End-to-end per-segment processing time including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RunDuration, err = m.Float64Histogram("lucent.run.duration",
		metric.WithDescription("Whole-stream processing time."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsProcessed, err = m.Int64Counter("lucent.segments.processed",
		metric.WithDescription("Total segments completed by status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsRetried, err = m.Int64Counter("lucent.segments.retried",
		metric.WithDescription("Total segments that needed at least one retry."),
	); err != nil {
		return nil, err
	}
	if met.InferenceRetries, err = m.Int64Counter("lucent.inference.retries",
		metric.WithDescription("Total individual inference retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.EngineRequests, err = m.Int64Counter("lucent.engine.requests",
		metric.WithDescription("Total backend requests by engine and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("lucent.engine.errors",
		metric.WithDescription("Total backend errors by engine and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("lucent.active_runs",
		metric.WithDescription("Number of streams currently being processed."),
	); err != nil {
		return nil, err
	}
	if met.InFlightSegments, err = m.Int64UpDownCounter("lucent.inflight_segments",
		metric.WithDescription("Segments currently inside the worker pool."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lucent.http.request.duration",
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

// RecordEngineRequest is a convenience method that records an engine request
// counter increment with the standard attribute set.
func (m *Metrics) RecordEngineRequest(ctx context.Context, engine, status string) {
	m.EngineRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}

// RecordEngineError is a convenience method that records an engine error
// counter increment.
func (m *Metrics) RecordEngineError(ctx context.Context, engine, kind string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegment is a convenience method that records a completed segment
// with its end-to-end duration.
func (m *Metrics) RecordSegment(ctx context.Context, status string, seconds float64) {
	m.SegmentsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.SegmentDuration.Record(ctx, seconds)
}
