// Package repository declares the persistence ports of the engine: the job
// ledger (instances, executions, step executions) and the execution context store.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// ErrCheckpointDataNotFound is returned by LoadCheckpoint when no chunk of the
// step has committed yet.
var ErrCheckpointDataNotFound = errors.New("checkpoint data not found")

// ExecutionContextStore persists the last committed ExecutionContext per
// (job name, instance id, step name).
type ExecutionContextStore interface {
	SaveCheckpoint(ctx context.Context, data *model.CheckpointData) error
	LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (*model.CheckpointData, error)
}

// TransactionalStore is implemented by stores that can write inside the chunk
// transaction found in the context (see tx.WithTx). The engine saves the
// checkpoint before commit for such stores and after commit for all others.
type TransactionalStore interface {
	JoinsTransaction() bool
}

// JoinsTransaction reports whether store writes inside the chunk transaction.
func JoinsTransaction(store ExecutionContextStore) bool {
	ts, ok := store.(TransactionalStore)
	return ok && ts.JoinsTransaction()
}

// JobRepository is the job ledger plus a default checkpoint store.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution
	ExecutionContextStore

	Close() error
}
