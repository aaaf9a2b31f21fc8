package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/job"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func newExecution(t *testing.T, repo *inmemory.InMemoryJobRepository, instanceID string) *model.JobExecution {
	t.Helper()
	je := model.NewJobExecution(instanceID, "job", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	return je
}

func withStatus(status model.BatchStatus) interface{} {
	return mock.MatchedBy(func(je *model.JobExecution) bool { return je.Status == status })
}

func TestSimpleJob_AllStepsComplete(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	s2 := &test.FakeStep{Name: "s2", Repo: repo}
	listener := &test.MockJobListener{}
	listener.On("BeforeJob", mock.Anything, withStatus(model.BatchStatusStarting)).Return(nil).Once()
	listener.On("AfterJob", mock.Anything, withStatus(model.BatchStatusCompleted)).Return(nil).Once()

	j := job.NewSimpleJob("job", repo, []port.Step{s1, s2}, job.WithJobListener(listener))
	je := newExecution(t, repo, "i-1")

	require.NoError(t, j.Run(context.Background(), je))

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitCodeCompleted, je.ExitCode)
	assert.Equal(t, []string{"s1", "s2"}, j.StepNames())
	assert.Equal(t, 1, s1.Calls)
	assert.Equal(t, 1, s2.Calls)
	listener.AssertExpectations(t)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Len(t, stored.StepExecutions, 2)
}

func TestSimpleJob_FailedStepHaltsJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	boom := errors.New("boom")
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	s2 := &test.FakeStep{Name: "s2", Repo: repo, Err: boom}
	s3 := &test.FakeStep{Name: "s3", Repo: repo}
	listener := &test.MockJobListener{}
	listener.On("BeforeJob", mock.Anything, mock.Anything).Return(nil)
	listener.On("AfterJob", mock.Anything, withStatus(model.BatchStatusFailed)).Return(nil).Once()

	j := job.NewSimpleJob("job", repo, []port.Step{s1, s2, s3}, job.WithJobListener(listener))
	je := newExecution(t, repo, "i-1")

	err := j.Run(context.Background(), je)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitCodeFailed, je.ExitCode)
	assert.Contains(t, je.ExitDescription, "boom")
	assert.Equal(t, 0, s3.Calls)
	listener.AssertExpectations(t)
}

func TestSimpleJob_BeforeJobErrorFailsWithoutRunningSteps(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	listener := &test.MockJobListener{}
	listener.On("BeforeJob", mock.Anything, mock.Anything).Return(errors.New("no input file"))
	listener.On("AfterJob", mock.Anything, withStatus(model.BatchStatusFailed)).Return(nil).Once()

	j := job.NewSimpleJob("job", repo, []port.Step{s1}, job.WithJobListener(listener))
	je := newExecution(t, repo, "i-1")

	require.Error(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, 0, s1.Calls)
	listener.AssertExpectations(t)
}

func TestSimpleJob_WarnPolicyIgnoresListenerErrors(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	listener := &test.MockJobListener{}
	listener.On("BeforeJob", mock.Anything, mock.Anything).Return(errors.New("metrics push failed"))
	listener.On("AfterJob", mock.Anything, mock.Anything).Return(errors.New("mail not sent"))
	stepListener := &test.MockStepListener{}
	stepListener.On("BeforeStep", mock.Anything, mock.Anything).Return(errors.New("ignored"))
	stepListener.On("AfterStep", mock.Anything, mock.Anything).Return(nil)

	j := job.NewSimpleJob("job", repo, []port.Step{s1},
		job.WithJobListener(listener),
		job.WithStepListener(stepListener),
		job.WithListenerErrorPolicy(job.ParseListenerErrorPolicy("warn")))
	je := newExecution(t, repo, "i-1")

	require.NoError(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, 1, s1.Calls)
}

func TestSimpleJob_AfterJobErrorsAreAggregated(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	first, second := &test.MockJobListener{}, &test.MockJobListener{}
	for _, l := range []*test.MockJobListener{first, second} {
		l.On("BeforeJob", mock.Anything, mock.Anything).Return(nil)
	}
	first.On("AfterJob", mock.Anything, mock.Anything).Return(errors.New("first failed")).Once()
	second.On("AfterJob", mock.Anything, mock.Anything).Return(errors.New("second failed")).Once()

	j := job.NewSimpleJob("job", repo, []port.Step{&test.FakeStep{Name: "s1", Repo: repo}},
		job.WithJobListener(first), job.WithJobListener(second))
	je := newExecution(t, repo, "i-1")

	err := j.Run(context.Background(), je)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "second failed")
	assert.Equal(t, model.BatchStatusCompleted, je.Status, "after-job sees and keeps the final status")
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestSimpleJob_BeforeStepErrorFailsStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	stepListener := &test.MockStepListener{}
	stepListener.On("BeforeStep", mock.Anything, mock.Anything).Return(errors.New("precondition"))
	stepListener.On("AfterStep", mock.Anything, mock.Anything).Return(nil).Once()

	j := job.NewSimpleJob("job", repo, []port.Step{s1}, job.WithStepListener(stepListener))
	je := newExecution(t, repo, "i-1")

	require.Error(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusFailed, je.StepExecutions[0].Status)
	assert.Equal(t, 0, s1.Calls)
	stepListener.AssertExpectations(t)
}

func TestSimpleJob_AfterStepErrorFailsStepAndRerunsOnRestart(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	stepListener := &test.MockStepListener{}
	stepListener.On("BeforeStep", mock.Anything, mock.Anything).Return(nil)
	stepListener.On("AfterStep", mock.Anything, mock.Anything).Return(errors.New("audit row not written")).Once()
	stepListener.On("AfterStep", mock.Anything, mock.Anything).Return(nil).Once()
	j := job.NewSimpleJob("job", repo, []port.Step{s1}, job.WithStepListener(stepListener))

	first := newExecution(t, repo, "i-1")
	err := j.Run(ctx, first)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit row not written")
	assert.Equal(t, model.BatchStatusFailed, first.Status)
	stored, err := repo.FindLatestStepExecution(ctx, "i-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Contains(t, stored.ExitDescription, "after-step listener failed")

	second := newExecution(t, repo, "i-1")
	require.NoError(t, j.Run(ctx, second))
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 2, s1.Calls, "the step whose after-step phase failed runs again")
	stepListener.AssertExpectations(t)
}

func TestSimpleJob_AfterStepErrorOnStoppedStepFailsJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo, Stop: true}
	stepListener := &test.MockStepListener{}
	stepListener.On("BeforeStep", mock.Anything, mock.Anything).Return(nil)
	stepListener.On("AfterStep", mock.Anything, mock.Anything).Return(errors.New("audit row not written"))
	j := job.NewSimpleJob("job", repo, []port.Step{s1}, job.WithStepListener(stepListener))
	je := newExecution(t, repo, "i-1")

	require.Error(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusStopped, je.StepExecutions[0].Status)
	assert.Len(t, je.StepExecutions[0].Failures, 1)
}

func TestSimpleJob_RestartSkipsCompletedSteps(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	s2 := &test.FakeStep{Name: "s2", Repo: repo, Err: errors.New("transient outage")}
	j := job.NewSimpleJob("job", repo, []port.Step{s1, s2})

	first := newExecution(t, repo, "i-1")
	require.Error(t, j.Run(context.Background(), first))

	s2.Err = nil
	second := newExecution(t, repo, "i-1")
	require.NoError(t, j.Run(context.Background(), second))

	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 1, s1.Calls, "completed step is not re-run")
	assert.Equal(t, 2, s2.Calls)
	require.Len(t, second.StepExecutions, 2)
	skipped := second.StepExecutions[0]
	assert.Equal(t, model.BatchStatusCompleted, skipped.Status)
	assert.Equal(t, model.ExitStatusNoOp, skipped.ExitStatus)
	assert.Equal(t, "skipped: already completed", skipped.ExitDescription)
}

func TestSimpleJob_StoppedStepStopsJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo, Stop: true}
	s2 := &test.FakeStep{Name: "s2", Repo: repo}
	j := job.NewSimpleJob("job", repo, []port.Step{s1, s2})
	je := newExecution(t, repo, "i-1")

	require.NoError(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitCodeStopped, je.ExitCode)
	assert.Equal(t, 0, s2.Calls)
}

func TestSimpleJob_StopRequestedBeforeFirstStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	s1 := &test.FakeStep{Name: "s1", Repo: repo}
	j := job.NewSimpleJob("job", repo, []port.Step{s1})
	je := newExecution(t, repo, "i-1")
	je.RequestStop()

	require.NoError(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, 0, s1.Calls)
}
