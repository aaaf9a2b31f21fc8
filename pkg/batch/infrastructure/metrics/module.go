package metrics

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/telemetry"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Instruments is what the module contributes to the graph. Prometheus is nil
// unless infrastructure.metrics.type is "prometheus".
type Instruments struct {
	fx.Out

	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
	Prometheus *PrometheusRecorder
}

// NewFromConfig builds the recorder selected by infrastructure.metrics.type
// and, when infrastructure.tracing.enabled is set, an OTLP-exporting tracer.
// Providers are shut down (and flushed) on stop.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) (Instruments, error) {
	infra := cfg.Chunkflow.Infrastructure
	out := Instruments{Tracer: metrics.NewNoOpTracer()}

	if infra.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(context.Background(), infra.Tracing)
		if err != nil {
			return Instruments{}, err
		}
		telemetry.Install(tp, nil)
		lc.Append(fx.Hook{OnStop: tp.Shutdown})
		out.Tracer = NewOTelTracer(tp)
		logger.Infof("Tracing enabled: OTLP/%s to '%s'.", infra.Tracing.Protocol, infra.Tracing.Endpoint)
	}

	switch strings.ToLower(infra.Metrics.Type) {
	case "", "none":
		out.Recorder = metrics.NewNoOpMetricRecorder()
	case "prometheus":
		out.Prometheus = NewPrometheusRecorder()
		out.Recorder = out.Prometheus
	case "otel":
		mp, err := telemetry.NewMeterProvider(context.Background(), infra.Tracing)
		if err != nil {
			return Instruments{}, err
		}
		telemetry.Install(nil, mp)
		lc.Append(fx.Hook{OnStop: mp.Shutdown})
		recorder, err := NewOTelRecorder(mp)
		if err != nil {
			return Instruments{}, fmt.Errorf("failed to create OTel instruments: %w", err)
		}
		out.Recorder = recorder
	default:
		return Instruments{}, fmt.Errorf("unknown metrics type: %s", infra.Metrics.Type)
	}
	return out, nil
}

// Module provides metrics.MetricRecorder, metrics.Tracer and the optional
// *PrometheusRecorder.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
