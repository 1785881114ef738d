// Package telemetry sets up OpenTelemetry tracing for the RAG and handover
// pipelines. Spans land on whatever OTLP/HTTP collector cfg.Endpoint points
// at (Jaeger, Tempo, Honeycomb, etc); when telemetry is disabled the
// returned tracer is the global no-op tracer and Start/End cost a few
// pointer dereferences.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatrelay/convoengine/internal/config"
)

// Init configures the global TracerProvider per cfg. If cfg.Enabled is
// false it leaves the default (no-op) provider in place and returns a
// shutdown func that does nothing. Callers always defer the returned
// shutdown func.
func Init(ctx context.Context, cfg config.TelemetryConfig) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.Endpoint == "" {
		return noop, fmt.Errorf("telemetry: enabled but no endpoint configured")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "convoengine-gateway"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the named tracer off the global provider. A tracer taken
// before Init runs (internal/rag holds one in a package variable) forwards
// to whatever provider Init installs later, and stays a no-op tracer in
// tests and disabled-telemetry runs.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
