// Package telemetry sets up OpenTelemetry tracing for the crawler.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// TracingOptions configures the tracer provider.
type TracingOptions struct {
	ServiceName string
	// SampleRatio is the fraction of root spans kept, clamped to [0, 1].
	SampleRatio float64
	// Processors receive finished spans. None means spans are sampled but not exported.
	Processors []sdktrace.SpanProcessor
}

// InitTracerProvider installs a global tracer provider and the W3C trace
// context propagator used when publishing node events. Call Shutdown on the
// returned provider to flush its processors.
func InitTracerProvider(ctx context.Context, opts TracingOptions) (*sdktrace.TracerProvider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "sitetree-crawler"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ratio := min(max(opts.SampleRatio, 0), 1)
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	for _, p := range opts.Processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
