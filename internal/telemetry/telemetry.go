// Package telemetry is the ambient Telemetry component (C10): structured
// logging via log/slog and OpenTelemetry trace export, wired the way
// _examples/nevindra-oasis/observer/observer.go sets up its OTEL providers,
// configured from the teacher's own TelemetryConfig shape
// (internal/config/config.go) which corrobot's config.TelemetryConfig
// mirrors directly.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ravidnaor/corrobot/internal/config"
)

const scopeName = "github.com/ravidnaor/corrobot"

// Shutdown flushes and stops the tracer provider on exit.
type Shutdown func(context.Context) error

// Setup configures log/slog as the process-wide default logger (JSON to
// stdout, matching the teacher's structured-logging convention) and, if
// cfg.Enabled, an OTLP trace exporter. When disabled, the returned tracer
// comes from the global provider, which is a no-op, so callers never need a
// nil check.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (trace.Tracer, Shutdown, error) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if !cfg.Enabled {
		return otel.Tracer(scopeName), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("corrobot")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exp, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return otel.Tracer(scopeName), tp.Shutdown, nil
}

func newTraceExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "grpc" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}
