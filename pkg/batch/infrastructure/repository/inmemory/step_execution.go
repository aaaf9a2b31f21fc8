package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveStepExecution persists a new StepExecution.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
	}
	r.stepExecutions[stepExecution.ID] = stepExecution.Clone()
	r.stamp(stepExecution.ID)
	return nil
}

// UpdateStepExecution stores stepExecution when its Version matches and bumps the Version.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.stepExecutions[stepExecution.ID]
	if !exists {
		return fmt.Errorf("StepExecution with ID %s: %w", stepExecution.ID, repository.ErrStepExecutionNotFound)
	}
	if stored.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailure("inmemory",
			fmt.Sprintf("StepExecution %s: version %d is stale (stored %d)", stepExecution.ID, stepExecution.Version, stored.Version))
	}
	stepExecution.Version++
	r.stepExecutions[stepExecution.ID] = stepExecution.Clone()
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return se.Clone(), nil
}

// FindStepExecutionsByJobExecution returns the steps of one execution in start order.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepsOf(jobExecutionID), nil
}

// FindLatestStepExecution returns the newest attempt of stepName within the instance.
func (r *InMemoryJobRepository) FindLatestStepExecution(ctx context.Context, jobInstanceID, stepName string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.StepExecution
	for _, se := range r.stepExecutions {
		if se.StepName != stepName {
			continue
		}
		je, ok := r.jobExecutions[se.JobExecutionID]
		if !ok || je.JobInstanceID != jobInstanceID {
			continue
		}
		if latest == nil || r.order[se.ID] > r.order[latest.ID] {
			latest = se
		}
	}
	if latest == nil {
		return nil, repository.ErrStepExecutionNotFound
	}
	return latest.Clone(), nil
}

// stepsOf must be called with the read lock held.
func (r *InMemoryJobRepository) stepsOf(jobExecutionID string) []*model.StepExecution {
	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, se.Clone())
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return r.order[steps[i].ID] < r.order[steps[j].ID]
	})
	return steps
}
