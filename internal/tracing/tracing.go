// Package tracing sets up the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"todo-relay/internal/config"
	"todo-relay/internal/model"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "todo-relay"

// NewTracerProvider returns an OTLP/HTTP-backed provider when
// tracing.endpoint is set and a no-op provider otherwise. The provider is
// flushed and shut down when the fx app stops.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, version model.Version, logger *slog.Logger) (trace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Tracing.Endpoint == "" {
		logger.Debug("tracing disabled")
		return noop.NewTracerProvider(), nil
	}

	exp, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpointURL(cfg.Tracing.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.Tracing.ServiceName),
			semconv.ServiceVersion(string(version)),
		)),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown tracer provider: %w", err)
			}
			return nil
		},
	})

	logger.Info("tracing enabled",
		"endpoint", cfg.Tracing.Endpoint,
		"sample_ratio", cfg.Tracing.SampleRatio,
	)

	return tp, nil
}
