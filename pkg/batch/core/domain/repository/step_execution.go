package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var ErrStepExecutionNotFound = errors.New("step execution not found")

func init() {
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// StepExecution persists step attempts.
type StepExecution interface {
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateStepExecution is version-checked like UpdateJobExecution.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)

	// FindStepExecutionsByJobExecution returns the steps of one execution in start order.
	FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)

	// FindLatestStepExecution returns the newest attempt of stepName across all
	// executions of the instance.
	FindLatestStepExecution(ctx context.Context, jobInstanceID, stepName string) (*model.StepExecution, error)
}
