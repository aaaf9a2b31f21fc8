package admin

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
)

// Params are the dependencies of the admin server.
type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Explorer   usecase.JobExplorer
	Launcher   *usecase.SimpleJobLauncher
	Prometheus *metrics.PrometheusRecorder `optional:"true"`
}

// Register starts the server when infrastructure.metrics.admin_addr is set.
func Register(p Params) {
	addr := p.Config.Chunkflow.Infrastructure.Metrics.AdminAddr
	if addr == "" {
		return
	}
	gin.SetMode(gin.ReleaseMode)
	s := NewServer(p.Explorer, p.Launcher, p.Prometheus, p.Config.Chunkflow.Security.MaskedParameterKeys)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start(addr) },
		OnStop:  s.Shutdown,
	})
}

// Module starts the admin server with the application.
var Module = fx.Options(
	fx.Invoke(Register),
)
