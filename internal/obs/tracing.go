package obs

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName names the service in traces when none is configured.
const DefaultServiceName = "booking-payments"

// Tracing exporters understood by InitTracer. ExporterNone keeps span creation, and
// with it trace ids in logs, without shipping spans anywhere.
const (
	ExporterOTLP = "otlp"
	ExporterNone = "none"
)

// TracingConfig controls tracer provider initialisation.
type TracingConfig struct {
	ServiceName   string
	Endpoint      string
	Exporter      string
	SamplingRatio float64
	Environment   string
	// StoreBackend and Gateways describe this deployment on the trace resource.
	StoreBackend string
	Gateways     []string
}

// InitTracer installs the global tracer provider and W3C propagation and returns the
// provider's shutdown function. Sampling follows the caller's decision when a parent
// span is present.
func InitTracer(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	opts, err := exporterOption(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(serviceAttributes(cfg)...),
	)
	if err != nil {
		return nil, err
	}
	ratio := cfg.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts = append(opts,
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func exporterOption(ctx context.Context, cfg TracingConfig) ([]sdktrace.TracerProviderOption, error) {
	switch exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter)); exporter {
	case "", ExporterOTLP:
		var opts []otlptracehttp.Option
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("obs: otlp exporter: %w", err)
		}
		return []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exp)}, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("obs: unsupported tracing exporter %q", exporter)
	}
}

func serviceAttributes(cfg TracingConfig) []attribute.KeyValue {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(name)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	if cfg.StoreBackend != "" {
		attrs = append(attrs, attribute.String("booking.store_backend", cfg.StoreBackend))
	}
	if len(cfg.Gateways) > 0 {
		attrs = append(attrs, attribute.StringSlice("booking.gateways", cfg.Gateways))
	}
	return attrs
}
