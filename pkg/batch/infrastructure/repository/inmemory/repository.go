// Package inmemory provides an in-memory implementation of the JobRepository
// interface. It is suitable for tests and ephemeral runs where the ledger does
// not need to survive the process.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// InMemoryJobRepository keeps detached copies of everything it stores, so
// callers never share state with the repository.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	checkpointData map[model.CheckpointKey]*model.CheckpointData

	// insertion order, used to break CreateTime ties
	order map[string]int64
	next  int64

	mu sync.RWMutex
}

// NewInMemoryJobRepository creates an empty repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[model.CheckpointKey]*model.CheckpointData),
		order:          make(map[string]int64),
	}
}

// Close is a no-op.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

func (r *InMemoryJobRepository) stamp(id string) {
	r.next++
	r.order[id] = r.next
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
