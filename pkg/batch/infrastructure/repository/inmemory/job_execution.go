package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveJobExecution persists a new JobExecution.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	r.jobExecutions[jobExecution.ID] = jobExecution.Clone()
	r.stamp(jobExecution.ID)
	return nil
}

// UpdateJobExecution stores jobExecution when its Version matches and bumps the Version.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return fmt.Errorf("JobExecution with ID %s: %w", jobExecution.ID, repository.ErrJobExecutionNotFound)
	}
	if stored.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailure("inmemory",
			fmt.Sprintf("JobExecution %s: version %d is stale (stored %d)", jobExecution.ID, jobExecution.Version, stored.Version))
	}
	jobExecution.Version++
	r.jobExecutions[jobExecution.ID] = jobExecution.Clone()
	return nil
}

// FindJobExecutionByID returns a copy of the execution with its StepExecutions attached.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(je), nil
}

// FindJobExecutionsByJobInstance returns all executions of the instance, newest first.
func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var executions []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstanceID {
			executions = append(executions, je.Clone())
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return r.order[executions[i].ID] > r.order[executions[j].ID]
	})
	return executions, nil
}

// FindLatestJobExecution returns the newest execution of the instance.
func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	executions, err := r.FindJobExecutionsByJobInstance(ctx, jobInstanceID)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.FindJobExecutionByID(ctx, executions[0].ID)
}

// FindRunningJobExecutions returns executions of jobName that have not finished.
func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var running []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobName == jobName && je.Status.IsRunning() {
			running = append(running, je.Clone())
		}
	}
	sort.Slice(running, func(i, j int) bool {
		return r.order[running[i].ID] > r.order[running[j].ID]
	})
	return running, nil
}

// withSteps must be called with the read lock held.
func (r *InMemoryJobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	c := je.Clone()
	c.StepExecutions = r.stepsOf(je.ID)
	for _, se := range c.StepExecutions {
		se.JobExecution = c
	}
	return c
}
