package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

func cloneInstance(ji *model.JobInstance) *model.JobInstance {
	c := *ji
	c.Parameters = ji.Parameters.Copy()
	return &c
}

// SaveJobInstance persists a new JobInstance. (job name, parameters hash) is unique.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[jobInstance.ID]; exists {
		return fmt.Errorf("JobInstance with ID %s: %w", jobInstance.ID, repository.ErrJobInstanceExists)
	}
	for _, ji := range r.jobInstances {
		if ji.JobName == jobInstance.JobName && ji.ParametersHash == jobInstance.ParametersHash {
			return fmt.Errorf("JobInstance %s %s: %w", jobInstance.JobName, jobInstance.Parameters, repository.ErrJobInstanceExists)
		}
	}
	r.jobInstances[jobInstance.ID] = cloneInstance(jobInstance)
	r.stamp(jobInstance.ID)
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneInstance(ji), nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and
// canonically equal parameters.
func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.Parameters.Equal(params) {
			return cloneInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// FindLatestJobInstance returns the most recently saved instance of jobName.
func (r *InMemoryJobRepository) FindLatestJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobInstance
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && (latest == nil || r.order[ji.ID] > r.order[latest.ID]) {
			latest = ji
		}
	}
	if latest == nil {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneInstance(latest), nil
}

// GetJobNames returns the distinct job names, sorted.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uniqueNames := make(map[string]struct{})
	for _, ji := range r.jobInstances {
		uniqueNames[ji.JobName] = struct{}{}
	}
	names := make([]string, 0, len(uniqueNames))
	for name := range uniqueNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
