// Package telemetry configures OpenTelemetry tracing and the gateway's metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ScopeName is the instrumentation scope for tracers and meters
const ScopeName = "vatochito/gateway"

// Shutdown flushes and stops the providers installed by Init
type Shutdown func(context.Context) error

// Options selects exporters. With neither an endpoint nor Stdout set, only
// the propagator is installed and the global no-op providers stay in place.
type Options struct {
	ServiceName  string
	OTLPEndpoint string
	Stdout       bool
}

// Init installs global trace and meter providers
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if opts.OTLPEndpoint == "" && !opts.Stdout {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(opts.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if opts.OTLPEndpoint != "" {
		spanExporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		spanExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	shutdowns := []Shutdown{tp.Shutdown}

	if opts.OTLPEndpoint != "" {
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(opts.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}, nil
}
