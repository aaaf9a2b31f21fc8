// Package repository selects the job repository and checkpoint store
// backends from configuration.
package repository

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	jobRepo "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/objectstore"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewJobRepository builds the backend named by infrastructure.job_repository.type.
func NewJobRepository(lc fx.Lifecycle, cfg *config.Config, resolver database.DBConnectionResolver) (jobRepo.JobRepository, error) {
	switch t := cfg.Chunkflow.Infrastructure.JobRepository.Type; t {
	case "", "memory":
		logger.Infof("Using the in-memory job repository; executions are lost on exit.")
		return inmemory.NewInMemoryJobRepository(), nil
	case "sql":
		repo, err := sql.NewFromConfig(lc, cfg, resolver)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown job_repository type '%s'", t)
	}
}

// Module provides repository.JobRepository and repository.ExecutionContextStore.
// It needs a database.DBConnectionResolver and a storage.StorageConnectionResolver.
var Module = fx.Options(
	fx.Provide(NewJobRepository),
	objectstore.Module,
)
