package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const launcherModule = "job_launcher"

// SimpleJobLauncher runs jobs synchronously in the calling goroutine.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	registry      JobRegistry
	locker        port.Locker

	mu      sync.Mutex
	running map[string]*model.JobExecution
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a launcher. locker guards each JobInstance
// against concurrent launches.
func NewSimpleJobLauncher(repo repository.JobRepository, registry JobRegistry, locker port.Locker) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository: repo,
		registry:      registry,
		locker:        locker,
		running:       make(map[string]*model.JobExecution),
	}
}

// Launch runs jobName with params.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	return l.LaunchWithOptions(ctx, jobName, params, LaunchOptions{})
}

// LaunchWithOptions resolves the JobInstance for (jobName, params), creates a
// new JobExecution for it and runs the job to a terminal status.
//
// Errors are checked in this order: unknown job, instance already complete,
// execution already running (repository or lock). A FAILED or STOPPED latest
// execution is abandoned and restarted on the same instance; so is a running
// one when opts.RecoverStale is set.
func (l *SimpleJobLauncher) LaunchWithOptions(ctx context.Context, jobName string, params model.JobParameters, opts LaunchOptions) (*model.JobExecution, error) {
	job, ok := l.registry.GetJob(jobName)
	if !ok {
		return nil, exception.NewBatchErrorf(launcherModule, exception.ErrNoSuchJob, "no job named '%s' is registered", jobName)
	}

	if opts.Next {
		next, err := l.nextParameters(ctx, job, params)
		if err != nil {
			return nil, err
		}
		params = next
	}
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(launcherModule, "cannot hash JobParameters", errors.Join(exception.ErrInvalidJobParameters, err), false, false)
	}

	// Checked before locking so that a completed instance reports a conflict
	// even while someone else holds its lock.
	if _, latest, err := l.findLatest(ctx, jobName, params); err != nil {
		return nil, err
	} else if latest != nil && latest.Status == model.BatchStatusCompleted {
		return nil, alreadyComplete(jobName, latest)
	}

	unlock, acquired, err := l.locker.TryLock(ctx, jobName+":"+hash)
	if err != nil {
		return nil, exception.NewInfrastructureError(launcherModule, "failed to acquire launch lock", err)
	}
	if !acquired {
		return nil, exception.NewBatchErrorf(launcherModule, exception.ErrJobExecutionAlreadyRunning,
			"Job '%s' with parameters %s is being launched by another process", jobName, params.String())
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("Job '%s': failed to release launch lock: %v", jobName, err)
		}
	}()

	je, err := l.createExecution(ctx, jobName, params, opts)
	if err != nil {
		return nil, err
	}

	l.track(je)
	defer l.untrack(je.ID)

	if runErr := job.Run(ctx, je); runErr != nil {
		logger.Errorf("Job '%s' (Execution ID: %s) ended with error: %v", jobName, je.ID, runErr)
	}
	logger.Infof("Job '%s' (Execution ID: %s) finished with status %s, exit code %d.", jobName, je.ID, je.Status, je.ExitCode)
	return je, nil
}

// createExecution resolves the instance under the launch lock and persists a
// new JobExecution for it.
func (l *SimpleJobLauncher) createExecution(ctx context.Context, jobName string, params model.JobParameters, opts LaunchOptions) (*model.JobExecution, error) {
	instance, latest, err := l.findLatest(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Status.IsRunning() && opts.RecoverStale && !l.isTracked(latest.ID) {
		if err := l.recoverStale(ctx, latest); err != nil {
			return nil, err
		}
	}

	var je *model.JobExecution
	switch {
	case instance == nil:
		instance, err = model.NewJobInstance(jobName, params)
		if err != nil {
			return nil, exception.NewBatchError(launcherModule, "cannot create JobInstance", errors.Join(exception.ErrInvalidJobParameters, err), false, false)
		}
		if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
			if errors.Is(err, repository.ErrJobInstanceExists) {
				return nil, exception.NewBatchErrorf(launcherModule, exception.ErrJobExecutionAlreadyRunning,
					"JobInstance of '%s' was created concurrently", jobName)
			}
			return nil, exception.NewInfrastructureError(launcherModule, "failed to save JobInstance", err)
		}
		logger.Infof("Created JobInstance (ID: %s, JobName: %s).", instance.ID, jobName)
		je = model.NewJobExecution(instance.ID, jobName, instance.Parameters)

	case latest == nil:
		je = model.NewJobExecution(instance.ID, jobName, instance.Parameters)

	case latest.Status == model.BatchStatusCompleted:
		return nil, alreadyComplete(jobName, latest)

	case latest.Status.IsRunning():
		return nil, exception.NewBatchErrorf(launcherModule, exception.ErrJobExecutionAlreadyRunning,
			"JobExecution (ID: %s, Status: %s) of JobInstance (ID: %s) is still running; relaunch with recovery if its process is gone",
			latest.ID, latest.Status, instance.ID)

	default:
		restartCount := latest.RestartCount
		if latest.Status != model.BatchStatusAbandoned {
			if err := latest.MarkAsAbandoned(); err != nil {
				return nil, exception.NewBatchErrorf(launcherModule, err, "cannot abandon JobExecution (ID: %s)", latest.ID)
			}
			if err := l.jobRepository.UpdateJobExecution(ctx, latest); err != nil {
				return nil, exception.NewInfrastructureError(launcherModule, fmt.Sprintf("failed to abandon JobExecution (ID: %s)", latest.ID), err)
			}
		}
		je = model.NewJobExecution(instance.ID, jobName, instance.Parameters)
		je.RestartCount = restartCount + 1
		logger.Infof("Restarting JobInstance (ID: %s) after JobExecution (ID: %s). Restart count: %d", instance.ID, latest.ID, je.RestartCount)
	}

	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		return nil, exception.NewInfrastructureError(launcherModule, "failed to save JobExecution", err)
	}
	return je, nil
}

// recoverStale retires a running execution whose process is gone: its running
// steps become FAILED and the execution ABANDONED, so the launch takes the
// restart path and the steps resume from their last committed checkpoints.
func (l *SimpleJobLauncher) recoverStale(ctx context.Context, stale *model.JobExecution) error {
	cause := fmt.Errorf("execution %s was left %s by a launcher that no longer runs", stale.ID, stale.Status)
	logger.Warnf("Recovering JobExecution (ID: %s, Status: %s) of JobInstance (ID: %s).", stale.ID, stale.Status, stale.JobInstanceID)

	steps, err := l.jobRepository.FindStepExecutionsByJobExecution(ctx, stale.ID)
	if err != nil {
		return exception.NewInfrastructureError(launcherModule, fmt.Sprintf("failed to load StepExecutions of JobExecution (ID: %s)", stale.ID), err)
	}
	for _, se := range steps {
		if !se.Status.IsRunning() {
			continue
		}
		if err := se.MarkAsFailed(cause); err != nil {
			return exception.NewBatchErrorf(launcherModule, err, "cannot fail StepExecution (ID: %s)", se.ID)
		}
		if err := l.jobRepository.UpdateStepExecution(ctx, se); err != nil {
			return exception.NewInfrastructureError(launcherModule, fmt.Sprintf("failed to fail StepExecution (ID: %s)", se.ID), err)
		}
	}

	stale.AddFailureException(cause)
	stale.ExitDescription = cause.Error()
	if err := stale.MarkAsAbandoned(); err != nil {
		return exception.NewBatchErrorf(launcherModule, err, "cannot abandon JobExecution (ID: %s)", stale.ID)
	}
	if err := l.jobRepository.UpdateJobExecution(ctx, stale); err != nil {
		return exception.NewInfrastructureError(launcherModule, fmt.Sprintf("failed to abandon JobExecution (ID: %s)", stale.ID), err)
	}
	return nil
}

// findLatest returns the instance for (jobName, params) and its newest
// execution; either may be nil.
func (l *SimpleJobLauncher) findLatest(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, *model.JobExecution, error) {
	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if errors.Is(err, repository.ErrJobInstanceNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, exception.NewInfrastructureError(launcherModule, "failed to look up JobInstance", err)
	}
	latest, err := l.jobRepository.FindLatestJobExecution(ctx, instance.ID)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		return instance, nil, nil
	}
	if err != nil {
		return nil, nil, exception.NewInfrastructureError(launcherModule, "failed to look up JobExecution", err)
	}
	return instance, latest, nil
}

// nextParameters applies the job's incrementer to the latest instance's
// parameters and overlays params on the result.
func (l *SimpleJobLauncher) nextParameters(ctx context.Context, job port.Job, params model.JobParameters) (model.JobParameters, error) {
	provider, ok := job.(port.IncrementerProvider)
	if !ok || provider.Incrementer() == nil {
		return model.JobParameters{}, exception.NewBatchErrorf(launcherModule, exception.ErrInvalidJobParameters,
			"job '%s' has no JobParametersIncrementer", job.JobName())
	}

	base := model.NewJobParameters()
	last, err := l.jobRepository.FindLatestJobInstance(ctx, job.JobName())
	switch {
	case err == nil:
		base = last.Parameters
	case !errors.Is(err, repository.ErrJobInstanceNotFound):
		return model.JobParameters{}, exception.NewInfrastructureError(launcherModule, "failed to look up latest JobInstance", err)
	}

	next := provider.Incrementer().GetNext(base)
	for key, value := range params.Params {
		next.Put(key, value)
	}
	return next, nil
}

// Stop requests a graceful stop of an execution running in this process.
func (l *SimpleJobLauncher) Stop(ctx context.Context, executionID string) error {
	l.mu.Lock()
	je, ok := l.running[executionID]
	l.mu.Unlock()
	if !ok {
		return exception.NewBatchErrorf(launcherModule, repository.ErrJobExecutionNotFound,
			"JobExecution (ID: %s) is not running in this process", executionID)
	}
	logger.Infof("Stop requested for Job '%s' (Execution ID: %s).", je.JobName, je.ID)
	je.RequestStop()
	return nil
}

// StopAll requests a graceful stop of every execution running in this process.
func (l *SimpleJobLauncher) StopAll(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, je := range l.running {
		logger.Infof("Stop requested for Job '%s' (Execution ID: %s).", je.JobName, je.ID)
		je.RequestStop()
	}
}

// RunningExecutionIDs lists executions currently running in this process.
func (l *SimpleJobLauncher) RunningExecutionIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	return ids
}

func (l *SimpleJobLauncher) track(je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running[je.ID] = je
}

func (l *SimpleJobLauncher) isTracked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[id]
	return ok
}

func (l *SimpleJobLauncher) untrack(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, id)
}

func alreadyComplete(jobName string, latest *model.JobExecution) error {
	return exception.NewBatchErrorf(launcherModule, exception.ErrJobInstanceAlreadyComplete,
		"JobInstance (ID: %s) of '%s' already completed in JobExecution (ID: %s)", latest.JobInstanceID, jobName, latest.ID)
}
