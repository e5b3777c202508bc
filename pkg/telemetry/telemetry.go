package telemetry

import (
	"context"
	"time"

	"github.com/smallbiznis/keystone/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires telemetry components via Fx.
var Module = fx.Options(
	fx.Provide(NewTracerProvider),
)

// NewTracerProvider configures the OTLP exporter and tracer provider. When
// OTEL is disabled a no-export provider is still registered so spans from
// the otelgorm plugin have somewhere to go.
func NewTracerProvider(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*trace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", cfg.AppVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []trace.TracerProviderOption{trace.WithResource(res)}

	if cfg.OtelEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
		cancel()
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	logger.Info("telemetry initialized",
		zap.Bool("otel_enabled", cfg.OtelEnabled),
		zap.String("endpoint", cfg.OTLPEndpoint),
	)
	return tp, nil
}
