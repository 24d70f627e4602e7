// SPDX-License-Identifier: MPL-2.0

// Package telemetry installs the global OpenTelemetry tracer provider used by
// provisioning session spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "hytale-panel"

// ErrUnknownExporter is returned for an unsupported Config.Exporter.
var ErrUnknownExporter = errors.New("unknown trace exporter")

type (
	// Config selects the span exporter.
	Config struct {
		// Exporter is "otlp", "stdout" or "" (tracing disabled). An empty
		// Exporter with a non-empty OTLPEndpoint means "otlp".
		Exporter string
		// OTLPEndpoint is the collector's gRPC host:port.
		OTLPEndpoint string
		// Insecure disables TLS to the collector.
		Insecure bool
		// Writer receives spans for the stdout exporter. Nil means io.Discard.
		Writer io.Writer
		// Version is reported as service.version.
		Version string
	}

	// ShutdownFunc flushes and stops the tracer provider.
	ShutdownFunc func(context.Context) error
)

func noopShutdown(context.Context) error { return nil }

// Setup installs a tracer provider for cfg and returns its shutdown function.
// When tracing is disabled the global no-op provider is left in place.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil || exporter == nil {
		return noopShutdown, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	kind := cfg.Exporter
	if kind == "" && cfg.OTLPEndpoint != "" {
		kind = "otlp"
	}

	switch kind {
	case "", "none":
		return nil, nil
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = io.Discard
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, kind)
	}
}
