package job

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	jobRepo "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkflow/example/importuser/internal/schema"
)

// Params are the fx dependencies of the job.
type Params struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Config      *config.Config
	Repository  jobRepo.JobRepository
	Checkpoints jobRepo.ExecutionContextStore
	DB          database.DBConnectionResolver
	Storage     storage.StorageConnectionResolver
	TxManagers  *gormadapter.GormTransactionManagerFactory
	Listeners   *logging.Listeners
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// Provide builds importUserJob and migrates the people table on start.
func Provide(p Params) (port.Job, error) {
	props, err := LoadImportProperties(p.Config)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := p.DB.ResolveDBConnection(ctx, props.DBRef)
			if err != nil {
				return err
			}
			if err := schema.Apply(ctx, conn); err != nil {
				return err
			}
			logger.Infof("people table on '%s' is up to date.", props.DBRef)
			return nil
		},
	})
	j, err := NewImportUserJob(Dependencies{
		Config:      p.Config,
		Repository:  p.Repository,
		Checkpoints: p.Checkpoints,
		DB:          p.DB,
		Storage:     p.Storage,
		TxManagers:  p.TxManagers,
		Listeners:   p.Listeners,
		Recorder:    p.Recorder,
		Tracer:      p.Tracer,
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Module contributes importUserJob to the "jobs" group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(Provide, fx.ResultTags(`group:"jobs"`))),
)
