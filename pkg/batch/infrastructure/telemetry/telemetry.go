// Package telemetry builds the OpenTelemetry trace and meter providers that
// export over OTLP (gRPC or HTTP).
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// MetricExportInterval is how often the meter provider pushes.
const MetricExportInterval = 15 * time.Second

// Resource describes this process to the collector.
func Resource(cfg config.TracingConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "chunkflow"
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attribute.String("service.name", name)))
}

func protocol(cfg config.TracingConfig) (string, error) {
	switch p := strings.ToLower(cfg.Protocol); p {
	case "", "grpc":
		return "grpc", nil
	case "http":
		return "http", nil
	default:
		return "", fmt.Errorf("unknown OTLP protocol '%s'", cfg.Protocol)
	}
}

// NewTracerProvider exports spans in batches to cfg.Endpoint. The caller shuts
// the provider down.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}
	proto, err := protocol(cfg)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	if proto == "grpc" {
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	} else {
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
}

// NewMeterProvider pushes metrics to the same collector as traces.
func NewMeterProvider(ctx context.Context, cfg config.TracingConfig) (*sdkmetric.MeterProvider, error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}
	proto, err := protocol(cfg)
	if err != nil {
		return nil, err
	}

	var exporter sdkmetric.Exporter
	if proto == "grpc" {
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	} else {
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(MetricExportInterval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)), nil
}

// Install sets the global providers so that instrumented libraries share them.
func Install(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) {
	if tp != nil {
		otel.SetTracerProvider(tp)
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
	}
}
