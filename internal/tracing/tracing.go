// Package tracing wires OpenTelemetry spans into the depot. The only span
// started is around chunk serving (api.Server's content handler);
// the Drop VERSION_QUERY round trip and context-cache builds are not
// traced. The exporter is
// selected by config.TracingConfig, matching the rest of the process's
// "pick an implementation by config string" pattern (key manager, audit
// sink, backend probes).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/torrential/depot/internal/config"
)

// Tracer exposes the single StartSpan entry point handlers and the
// context builder need; it is nil-safe so tracing can be disabled
// without callers checking for nil at every call site.
type Tracer struct {
	tracer oteltrace.Tracer
}

// StartSpan starts a span named name, or returns ctx and a no-op span
// when tracing is disabled (t == nil).
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name)
}

// Init builds the configured exporter and registers a global
// TracerProvider, returning a Tracer and a shutdown func. With
// cfg.Exporter == "none" (or empty), tracing is fully disabled and the
// returned Tracer is inert.
func Init(ctx context.Context, cfg config.TracingConfig) (*Tracer, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var exporter trace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "", "none":
		return &Tracer{}, noop, nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger":
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	default:
		return nil, nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: building %s exporter: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "torrential-depot"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Tracer{tracer: tp.Tracer("torrential/depot")}, tp.Shutdown, nil
}
