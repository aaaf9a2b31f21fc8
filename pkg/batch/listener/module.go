// Package listener aggregates the listener modules shipped with chunkflow.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/metrics"
)

// Module provides the logging listeners and the optional asynchronous
// metric recorder decoration.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
)
