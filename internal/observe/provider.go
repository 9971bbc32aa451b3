package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options configures [Setup].
type Options struct {
	// ServiceName reported in telemetry. Default: "lucent".
	ServiceName string

	// ServiceVersion reported in telemetry.
	ServiceVersion string

	// SpanExporter receives finished spans. Lucent records a span per
	// enhancement run with child spans for inference calls; when nil the
	// spans exist for log correlation only and are never exported, which
	// is the normal mode for a one-shot CLI run.
	SpanExporter sdktrace.SpanExporter
}

// Setup wires the OTel SDK into the global providers: a meter provider
// backed by the Prometheus exporter (scraped through the metrics listener)
// and a tracer provider. It returns a shutdown function that flushes both;
// call it from a defer in main.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	res, err := buildResource(opts)
	if err != nil {
		return nil, err
	}

	mp, err := newMeterProvider(res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	tp := newTracerProvider(res, opts.SpanExporter)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func buildResource(opts Options) (*resource.Resource, error) {
	name := opts.ServiceName
	if name == "" {
		name = "lucent"
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	), nil
}

func newTracerProvider(res *resource.Resource, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}
