package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DecorateRecorder wraps the provided recorder in an AsyncRecorder when
// infrastructure.metrics.async_buffer_size is positive. The queue is drained
// on stop.
func DecorateRecorder(lc fx.Lifecycle, cfg *config.Config, recorder metrics.MetricRecorder) metrics.MetricRecorder {
	size := cfg.Chunkflow.Infrastructure.Metrics.AsyncBufferSize
	if size <= 0 {
		return recorder
	}
	async := NewAsyncRecorder(size, recorder)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			async.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return async
}

// Module replaces the MetricRecorder in the graph with DecorateRecorder's result.
var Module = fx.Options(
	fx.Decorate(DecorateRecorder),
)
