package sql_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/job"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/lock"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql/migration"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

type sqliteFixture struct {
	resolver *gormadapter.GormDBConnectionResolver
	repo     *sqlrepo.SQLJobRepository
}

// newSQLiteFixture migrates a fresh "metadata" database; "other" is a second,
// empty database.
func newSQLiteFixture(t *testing.T, opts ...sqlrepo.Option) *sqliteFixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Chunkflow.Databases["metadata"] = dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(dir, "batch.db")}
	cfg.Chunkflow.Databases["other"] = dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(dir, "other.db")}
	resolver := gormadapter.NewResolver(cfg, sqlite.NewProvider(cfg))
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveDBConnection(ctx, "metadata")
	require.NoError(t, err)
	require.NoError(t, migration.ApplyRepositorySchema(ctx, conn))
	// A second run finds nothing to do.
	require.NoError(t, migration.ApplyRepositorySchema(ctx, conn))

	return &sqliteFixture{resolver: resolver, repo: sqlrepo.NewSQLJobRepository(resolver, "metadata", opts...)}
}

func TestSQLJobRepository_JobInstanceIdentity(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t)

	params := test.NewTestJobParameters(map[string]interface{}{"input": "users.csv", "run.id": int64(7)})
	instance := test.NewTestJobInstance(t, "importUserJob", params)
	require.NoError(t, f.repo.SaveJobInstance(ctx, instance))

	again := test.NewTestJobInstance(t, "importUserJob", params.Copy())
	assert.ErrorIs(t, f.repo.SaveJobInstance(ctx, again), repository.ErrJobInstanceExists)

	reordered := model.NewJobParameters()
	reordered.Put("run.id", 7)
	reordered.Put("input", "users.csv")
	found, err := f.repo.FindJobInstanceByJobNameAndParameters(ctx, "importUserJob", reordered)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)
	assert.True(t, found.Parameters.Equal(params))

	byID, err := f.repo.FindJobInstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ParametersHash, byID.ParametersHash)

	_, err = f.repo.FindJobInstanceByJobNameAndParameters(ctx, "importUserJob", test.NewTestJobParameters(map[string]interface{}{"input": "other.csv"}))
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)
	_, err = f.repo.FindJobInstanceByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	latest, err := f.repo.FindLatestJobInstance(ctx, "importUserJob")
	require.NoError(t, err)
	assert.Equal(t, instance.ID, latest.ID)

	names, err := f.repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"importUserJob"}, names)
}

func TestSQLJobRepository_VersionedUpdates(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t)

	instance := test.NewTestJobInstance(t, "job", model.NewJobParameters())
	require.NoError(t, f.repo.SaveJobInstance(ctx, instance))
	je := model.NewJobExecution(instance.ID, "job", instance.Parameters)
	require.NoError(t, f.repo.SaveJobExecution(ctx, je))

	stale := je.Clone()
	require.NoError(t, je.MarkAsStarted())
	require.NoError(t, f.repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	require.NoError(t, stale.MarkAsStarted())
	err := f.repo.UpdateJobExecution(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err), "got %v", err)

	ghost := model.NewJobExecution(instance.ID, "job", instance.Parameters)
	assert.ErrorIs(t, f.repo.UpdateJobExecution(ctx, ghost), repository.ErrJobExecutionNotFound)

	se := model.NewStepExecution(je, "step")
	require.NoError(t, f.repo.SaveStepExecution(ctx, se))
	staleStep := se.Clone()
	require.NoError(t, se.MarkAsStarted())
	se.ReadCount = 10
	se.ExecutionContext.Put("reader.offset", 10)
	require.NoError(t, f.repo.UpdateStepExecution(ctx, se))
	err = f.repo.UpdateStepExecution(ctx, staleStep)
	assert.True(t, exception.IsOptimisticLockingFailure(err), "got %v", err)

	loaded, err := f.repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, loaded.Status)
	assert.Equal(t, 10, loaded.ReadCount)
	offset, ok := loaded.ExecutionContext.GetInt("reader.offset")
	assert.True(t, ok)
	assert.Equal(t, 10, offset)
}

func TestSQLJobRepository_ExecutionsAndSteps(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t)

	instance := test.NewTestJobInstance(t, "job", model.NewJobParameters())
	require.NoError(t, f.repo.SaveJobInstance(ctx, instance))

	first := model.NewJobExecution(instance.ID, "job", instance.Parameters)
	require.NoError(t, f.repo.SaveJobExecution(ctx, first))
	require.NoError(t, first.MarkAsStarted())
	firstStep := model.NewStepExecution(first, "step")
	require.NoError(t, f.repo.SaveStepExecution(ctx, firstStep))
	require.NoError(t, firstStep.MarkAsStarted())
	require.NoError(t, firstStep.MarkAsFailed(errors.New("disk full")))
	require.NoError(t, f.repo.UpdateStepExecution(ctx, firstStep))
	require.NoError(t, first.MarkAsFailed(errors.New("disk full")))
	require.NoError(t, f.repo.UpdateJobExecution(ctx, first))

	second := model.NewJobExecution(instance.ID, "job", instance.Parameters)
	second.RestartCount = 1
	second.CreateTime = first.CreateTime // ties are broken by restart count
	require.NoError(t, f.repo.SaveJobExecution(ctx, second))
	require.NoError(t, second.MarkAsStarted())
	require.NoError(t, f.repo.UpdateJobExecution(ctx, second))
	secondStep := model.NewStepExecution(second, "step")
	require.NoError(t, f.repo.SaveStepExecution(ctx, secondStep))
	otherStep := model.NewStepExecution(second, "export")
	require.NoError(t, f.repo.SaveStepExecution(ctx, otherStep))

	latest, err := f.repo.FindLatestJobExecution(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	require.Len(t, latest.StepExecutions, 2)
	assert.Equal(t, "step", latest.StepExecutions[0].StepName)
	assert.Equal(t, "export", latest.StepExecutions[1].StepName)
	assert.Same(t, latest, latest.StepExecutions[0].JobExecution)

	all, err := f.repo.FindJobExecutionsByJobInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{second.ID, first.ID}, []string{all[0].ID, all[1].ID})

	stored, err := f.repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Equal(t, model.ExitCodeFailed, stored.ExitCode)
	assert.Equal(t, model.FailureList{"disk full"}, stored.Failures)
	require.NotNil(t, stored.EndTime)

	step, err := f.repo.FindLatestStepExecution(ctx, instance.ID, "step")
	require.NoError(t, err)
	assert.Equal(t, secondStep.ID, step.ID)
	_, err = f.repo.FindLatestStepExecution(ctx, instance.ID, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)

	running, err := f.repo.FindRunningJobExecutions(ctx, "job")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, second.ID, running[0].ID)

	_, err = f.repo.FindJobExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestSQLJobRepository_Checkpoint(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t)
	key := model.CheckpointKey{JobName: "job", JobInstanceID: "instance-1", StepName: "step"}

	_, err := f.repo.LoadCheckpoint(ctx, key)
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	cp := &model.CheckpointData{
		JobName: key.JobName, JobInstanceID: key.JobInstanceID, StepName: key.StepName,
		StepExecutionID:  "step-1",
		ExecutionContext: test.NewTestExecutionContext(map[string]interface{}{"reader.offset": 10}),
	}
	require.NoError(t, f.repo.SaveCheckpoint(ctx, cp))
	assert.Equal(t, 0, cp.Version)

	cp.StepExecutionID = "step-2"
	cp.ExecutionContext.Put("reader.offset", 20)
	require.NoError(t, f.repo.SaveCheckpoint(ctx, cp))
	assert.Equal(t, 1, cp.Version)

	loaded, err := f.repo.LoadCheckpoint(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "step-2", loaded.StepExecutionID)
	assert.Equal(t, 1, loaded.Version)
	offset, ok := loaded.ExecutionContext.GetInt("reader.offset")
	require.True(t, ok)
	assert.Equal(t, 20, offset)
}

func TestSQLJobRepository_CheckpointJoinsChunkTransaction(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t, sqlrepo.WithTransactionJoining())
	assert.True(t, repository.JoinsTransaction(f.repo))

	key := model.CheckpointKey{JobName: "job", JobInstanceID: "instance-1", StepName: "step"}
	cp := &model.CheckpointData{JobName: key.JobName, JobInstanceID: key.JobInstanceID, StepName: key.StepName,
		StepExecutionID: "step-1", ExecutionContext: model.NewExecutionContext()}
	manager := gormadapter.NewGormTransactionManager(f.resolver, "metadata")

	rolledBack, err := manager.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveCheckpoint(tx.WithTx(ctx, rolledBack), cp))
	require.NoError(t, manager.Rollback(rolledBack))
	_, err = f.repo.LoadCheckpoint(ctx, key)
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound, "the checkpoint is discarded with the chunk")

	committed, err := manager.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveCheckpoint(tx.WithTx(ctx, committed), cp))
	require.NoError(t, manager.Commit(committed))
	_, err = f.repo.LoadCheckpoint(ctx, key)
	assert.NoError(t, err)

	foreign, err := gormadapter.NewGormTransactionManager(f.resolver, "other").Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = manager.Rollback(foreign) }()
	err = f.repo.SaveCheckpoint(tx.WithTx(ctx, foreign), cp)
	assert.True(t, exception.IsInfrastructure(err), "got %v", err)
}

// flakyWriter fails its second write once.
type flakyWriter struct {
	test.CollectingWriter[int]
	calls int
}

func (w *flakyWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	w.calls++
	if w.calls == 2 {
		return errors.New("disk full")
	}
	return w.CollectingWriter.Write(ctx, t, items)
}

func TestSQLJobRepository_LaunchRestartResumes(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t)

	numbers := make([]int, 25)
	for i := range numbers {
		numbers[i] = i + 1
	}
	writer := &flakyWriter{}
	step := item.NewChunkStep[int, int]("importStep",
		test.NewListReader(numbers...),
		test.FuncProcessor[int, int](func(ctx context.Context, i int) (int, error) { return i, nil }),
		writer, f.repo, item.WithChunkSize(10))
	registry, err := usecase.NewMapJobRegistry(job.NewSimpleJob("importJob", f.repo, []port.Step{step}))
	require.NoError(t, err)
	launcher := usecase.NewSimpleJobLauncher(f.repo, registry, lock.NewMemoryLocker())
	params := test.NewTestJobParameters(map[string]interface{}{"input": "users.csv"})

	first, err := launcher.Launch(ctx, "importJob", params)
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, first.Status)

	second, err := launcher.Launch(ctx, "importJob", params)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 1, second.RestartCount)
	assert.Equal(t, numbers, writer.Items())

	_, err = launcher.Launch(ctx, "importJob", params)
	assert.ErrorIs(t, err, exception.ErrJobInstanceAlreadyComplete)

	stored, err := f.repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)

	done, err := f.repo.FindJobExecutionByID(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, done.StepExecutions, 1)
	assert.Equal(t, 15, done.StepExecutions[0].WriteCount)
}
