package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newInstance(t *testing.T, repo *inmemory.InMemoryJobRepository, jobName string, kv ...interface{}) *model.JobInstance {
	t.Helper()
	params := model.NewJobParameters()
	for i := 0; i+1 < len(kv); i += 2 {
		params.Put(kv[i].(string), kv[i+1])
	}
	ji, err := model.NewJobInstance(jobName, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(context.Background(), ji))
	return ji
}

func TestJobInstance_UniqueIdentity(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji := newInstance(t, repo, "importUserJob", "input", "people.csv")

	dup, err := model.NewJobInstance("importUserJob", ji.Parameters.Copy())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.SaveJobInstance(ctx, dup), repository.ErrJobInstanceExists)

	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "importUserJob", ji.Parameters.Copy())
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)

	other := model.NewJobParameters()
	other.Put("input", "other.csv")
	_, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "importUserJob", other)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)
}

func TestJobInstance_LatestAndNames(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	newInstance(t, repo, "b", "run.id", int64(1))
	second := newInstance(t, repo, "b", "run.id", int64(2))
	newInstance(t, repo, "a")

	latest, err := repo.FindLatestJobInstance(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestJobExecution_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji := newInstance(t, repo, "job")

	je := model.NewJobExecution(ji.ID, ji.JobName, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	stale := je.Clone()
	require.NoError(t, je.MarkAsStarted())
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	err := repo.UpdateJobExecution(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	running, err := repo.FindRunningJobExecutions(ctx, "job")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, model.BatchStatusStarted, running[0].Status)
}

func TestJobExecution_NewestFirstWithSteps(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji := newInstance(t, repo, "job")

	first := model.NewJobExecution(ji.ID, ji.JobName, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, first))
	second := model.NewJobExecution(ji.ID, ji.JobName, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, second))

	s1 := model.NewStepExecution(second, "step1")
	require.NoError(t, repo.SaveStepExecution(ctx, s1))
	s2 := model.NewStepExecution(second, "step2")
	require.NoError(t, repo.SaveStepExecution(ctx, s2))

	all, err := repo.FindJobExecutionsByJobInstance(ctx, ji.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	latest, err := repo.FindLatestJobExecution(ctx, ji.ID)
	require.NoError(t, err)
	require.Len(t, latest.StepExecutions, 2)
	assert.Equal(t, "step1", latest.StepExecutions[0].StepName)
	assert.Same(t, latest, latest.StepExecutions[1].JobExecution)

	step, err := repo.FindLatestStepExecution(ctx, ji.ID, "step2")
	require.NoError(t, err)
	assert.Equal(t, s2.ID, step.ID)

	_, err = repo.FindLatestStepExecution(ctx, ji.ID, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}

func TestStepExecution_StoredCopyIsDetached(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := model.NewJobExecution("instance", "job", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := model.NewStepExecution(je, "step")
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	se.ReadCount = 42
	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ReadCount)

	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	stored, err = repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, stored.ReadCount)
	assert.Equal(t, 1, stored.Version)
}

func TestCheckpoint_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	key := model.CheckpointKey{JobName: "job", JobInstanceID: "i-1", StepName: "step"}

	_, err := repo.LoadCheckpoint(ctx, key)
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	ec := model.NewExecutionContext()
	ec.Put("chunk.seq", int64(1))
	require.NoError(t, repo.SaveCheckpoint(ctx, &model.CheckpointData{
		JobName: key.JobName, JobInstanceID: key.JobInstanceID, StepName: key.StepName, ExecutionContext: ec,
	}))
	ec.Put("chunk.seq", int64(2))
	require.NoError(t, repo.SaveCheckpoint(ctx, &model.CheckpointData{
		JobName: key.JobName, JobInstanceID: key.JobInstanceID, StepName: key.StepName, ExecutionContext: ec,
	}))
	ec.Put("chunk.seq", int64(99))

	cp, err := repo.LoadCheckpoint(ctx, key)
	require.NoError(t, err)
	seq, _ := cp.ExecutionContext.GetInt64("chunk.seq")
	assert.Equal(t, int64(2), seq)
	assert.Equal(t, 1, cp.Version)
	assert.False(t, repository.JoinsTransaction(repo))
}
