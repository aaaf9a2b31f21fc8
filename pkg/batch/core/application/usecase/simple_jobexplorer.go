package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const explorerModule = "job_explorer"

// SimpleJobExplorer answers JobExplorer queries from a JobRepository. Not-found
// errors keep their repository sentinel so callers can use errors.Is.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecution. Execution ID: %s", executionID)
	je, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	steps, err := e.jobRepository.FindStepExecutionsByJobExecution(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepExecutions of JobExecution (ID: %s)", executionID), err, false, false)
	}
	je.StepExecutions = steps
	return je, nil
}

func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecutions. Instance ID: %s", instanceID)
	executions, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve JobExecutions of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return executions, nil
}

func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetLastJobExecution. Instance ID: %s", instanceID)
	je, err := e.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve the latest JobExecution of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return je, nil
}

func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	logger.Debugf("JobExplorer: GetJobInstance. Instance ID: %s", instanceID)
	ji, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return ji, nil
}

func (e *SimpleJobExplorer) GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	logger.Debugf("JobExplorer: GetLastJobInstance. Job Name: %s", jobName)
	ji, err := e.jobRepository.FindLatestJobInstance(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve the latest JobInstance of '%s'", jobName), err, false, false)
	}
	return ji, nil
}

func (e *SimpleJobExplorer) GetRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	executions, err := e.jobRepository.FindRunningJobExecutions(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve running JobExecutions of '%s'", jobName), err, false, false)
	}
	return executions, nil
}

func (e *SimpleJobExplorer) GetStepExecutions(ctx context.Context, executionID string) ([]*model.StepExecution, error) {
	steps, err := e.jobRepository.FindStepExecutionsByJobExecution(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepExecutions of JobExecution (ID: %s)", executionID), err, false, false)
	}
	return steps, nil
}

func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, "Failed to retrieve job names", err, false, false)
	}
	logger.Debugf("JobExplorer: retrieved %d job names.", len(names))
	return names, nil
}
