package repository_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func TestNewJobRepository(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.NewConfig()
	conn, _ := test.NewSQLMockConnection(t, "main")
	resolver := &test.SingleConnectionResolver{Conn: conn}

	cfg.Chunkflow.Infrastructure.JobRepository.Type = "memory"
	repo, err := repository.NewJobRepository(lc, cfg, resolver)
	require.NoError(t, err)
	assert.IsType(t, &inmemory.InMemoryJobRepository{}, repo)

	cfg.Chunkflow.Infrastructure.JobRepository = config.RepositoryConfig{Type: "sql", DBRef: "main"}
	repo, err = repository.NewJobRepository(lc, cfg, resolver)
	require.NoError(t, err)
	assert.IsType(t, &sql.SQLJobRepository{}, repo)

	cfg.Chunkflow.Infrastructure.JobRepository = config.RepositoryConfig{Type: "sql"}
	repo, err = repository.NewJobRepository(lc, cfg, resolver)
	assert.Error(t, err)
	assert.Nil(t, repo)

	cfg.Chunkflow.Infrastructure.JobRepository.Type = "mongo"
	_, err = repository.NewJobRepository(lc, cfg, resolver)
	assert.Error(t, err)
}
