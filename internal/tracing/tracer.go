package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/wkm/cacheproxy/internal/config"
)

// InitTracing configures the global OpenTelemetry tracer provider from
// cfg.Tracing, exporting to Jaeger and/or OTLP, and tags every span's
// resource with the registry's configured byte budget so trace backends
// can segment fetch latency by cache size tier without a separate lookup.
// It returns a shutdown func that flushes and closes the provider.
func InitTracing(cfg *config.Config) (func() error, error) {
	tc := cfg.Tracing
	if !tc.Enabled {
		return func() error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(tc.ServiceName),
			semconv.ServiceVersionKey.String(tc.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(tc.Environment),
			attribute.Int64("cacheproxy.cache_max_bytes", cfg.Cache.MaxSizeBytes()),
			attribute.String("cacheproxy.dial_algorithm", cfg.Dial.Algorithm),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	var exporters []trace.SpanExporter

	if tc.JaegerEndpoint != "" {
		jaegerExporter, err := jaeger.New(
			jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(tc.JaegerEndpoint)),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: jaeger exporter: %w", err)
		}
		exporters = append(exporters, jaegerExporter)
	}

	if tc.OTLPEndpoint != "" {
		otlpExporter, err := otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(tc.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
		}
		exporters = append(exporters, otlpExporter)
	}

	if len(exporters) == 0 {
		return nil, fmt.Errorf("tracing: enabled but neither jaegerEndpoint nor otlpEndpoint is set")
	}

	var processors []trace.SpanProcessor
	for _, exporter := range exporters {
		processors = append(processors, trace.NewBatchSpanProcessor(
			exporter,
			trace.WithBatchTimeout(5*time.Second),
			trace.WithMaxExportBatchSize(512),
		))
	}

	var sampler trace.Sampler
	switch {
	case tc.SamplingRatio <= 0:
		sampler = trace.NeverSample()
	case tc.SamplingRatio >= 1:
		sampler = trace.AlwaysSample()
	default:
		sampler = trace.ParentBased(trace.TraceIDRatioBased(tc.SamplingRatio))
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(sampler),
	)
	for _, processor := range processors {
		tp.RegisterSpanProcessor(processor)
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("tracing: shutdown: %w", err)
		}
		return nil
	}, nil
}
