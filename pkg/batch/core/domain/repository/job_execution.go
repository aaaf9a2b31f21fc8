package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var ErrJobExecutionNotFound = errors.New("job execution not found")

func init() {
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
}

// JobExecution persists job execution attempts. Rows are appended, never deleted.
type JobExecution interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution writes jobExecution if its Version matches the stored
	// one and increments Version; otherwise it returns an
	// exception.ErrOptimisticLockingFailure.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindJobExecutionsByJobInstance returns all executions of the instance, newest first.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error)

	// FindLatestJobExecution returns the newest execution of the instance.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)

	// FindRunningJobExecutions returns executions in STARTING, STARTED or STOPPING.
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}
