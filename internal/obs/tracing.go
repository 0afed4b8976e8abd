package obs

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingConfig describes where spans go and how many of them are kept.
type TracingConfig struct {
	ServiceName   string
	Endpoint      string
	SamplingRatio float64
	Environment   string
}

// Sampler keeps the caller's sampling decision and samples root spans by ratio.
func (c TracingConfig) Sampler() sdktrace.Sampler {
	ratio := c.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func (c TracingConfig) resource(ctx context.Context) (*resource.Resource, error) {
	if strings.TrimSpace(c.ServiceName) == "" {
		return nil, errors.New("tracing: service name required")
	}
	attrs := []resource.Option{
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(c.ServiceName)),
	}
	if c.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(c.Environment)))
	}
	return resource.New(ctx, attrs...)
}

// InitTracer exports spans over OTLP/HTTP, installs the W3C propagators and
// returns the provider's shutdown hook. An empty endpoint defers to the
// OTEL_EXPORTER_OTLP_* environment variables.
func InitTracer(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}
	var opts []otlptracehttp.Option
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return provider.Shutdown, nil
}
