package usecase

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// LaunchOptions modifies how Launch derives the JobInstance.
type LaunchOptions struct {
	// Next applies the job's JobParametersIncrementer to the parameters of the
	// latest instance, so the launch always gets a fresh JobInstance.
	Next bool
	// RecoverStale treats a running latest execution that no launcher in this
	// process owns as left behind by a crashed process. It is abandoned, its
	// running steps are marked FAILED and the instance restarts from its
	// checkpoints.
	RecoverStale bool
}

// JobLauncher starts jobs by name.
type JobLauncher interface {
	// Launch runs the job to a terminal status and returns its execution. The
	// error reports a launch failure (unknown job, identity conflict, already
	// running, infrastructure); a job that ran and failed is reported through
	// the returned execution's status.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
	LaunchWithOptions(ctx context.Context, jobName string, params model.JobParameters, opts LaunchOptions) (*model.JobExecution, error)
	// Stop asks a job running in this process to stop at the next chunk boundary.
	Stop(ctx context.Context, executionID string) error
	// StopAll asks every job running in this process to stop.
	StopAll(ctx context.Context)
}

// JobRegistry resolves jobs by name.
type JobRegistry interface {
	Register(job port.Job) error
	GetJob(name string) (port.Job, bool)
	JobNames() []string
}

// JobExplorer is a read-only view of the job repository.
type JobExplorer interface {
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)
	// GetJobExecutions returns the executions of an instance, newest first.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)
	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)
	GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error)
	GetRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
	GetStepExecutions(ctx context.Context, executionID string) ([]*model.StepExecution, error)
	GetJobNames(ctx context.Context) ([]string, error)
}
