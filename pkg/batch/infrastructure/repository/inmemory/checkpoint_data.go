package inmemory

import (
	"context"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// SaveCheckpoint upserts the checkpoint of one step. The stored Version is
// incremented on every save.
func (r *InMemoryJobRepository) SaveCheckpoint(ctx context.Context, data *model.CheckpointData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *data
	c.ExecutionContext = data.ExecutionContext.Copy()
	if prev, ok := r.checkpointData[data.Key()]; ok {
		c.Version = prev.Version + 1
	}
	if c.LastUpdated.IsZero() {
		c.LastUpdated = time.Now()
	}
	r.checkpointData[data.Key()] = &c
	data.Version = c.Version
	return nil
}

// LoadCheckpoint returns repository.ErrCheckpointDataNotFound when no chunk
// of the step has committed yet.
func (r *InMemoryJobRepository) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (*model.CheckpointData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.checkpointData[key]
	if !ok {
		return nil, repository.ErrCheckpointDataNotFound
	}
	c := *data
	c.ExecutionContext = data.ExecutionContext.Copy()
	return &c, nil
}
