package sql

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql/migration"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewFromConfig builds the repository on infrastructure.job_repository.db_ref
// and, when auto_migrate is set, applies the schema on start.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config, resolver database.DBConnectionResolver) (*SQLJobRepository, error) {
	rc := cfg.Chunkflow.Infrastructure.JobRepository
	if rc.DBRef == "" {
		return nil, fmt.Errorf("job_repository.db_ref must name a database connection")
	}
	var opts []Option
	if rc.JoinTransaction {
		opts = append(opts, WithTransactionJoining())
	}
	repo := NewSQLJobRepository(resolver, rc.DBRef, opts...)

	if rc.AutoMigrate {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				conn, err := resolver.ResolveDBConnection(ctx, rc.DBRef)
				if err != nil {
					return fmt.Errorf("failed to resolve '%s' for repository migrations: %w", rc.DBRef, err)
				}
				if err := migration.ApplyRepositorySchema(ctx, conn); err != nil {
					return err
				}
				logger.Infof("Job repository schema on '%s' is up to date.", rc.DBRef)
				return nil
			},
		})
	}
	return repo, nil
}
