// Package writer provides port.ItemWriter implementations that are safe to
// replay: a chunk delivered again after a restart leaves the same result.
package writer

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const upsertModule = "UpsertWriter"

// UpsertWriter writes each chunk inside the chunk transaction with an
// INSERT ... ON CONFLICT on a natural key. Rows that already exist get
// updateColumns overwritten, or are left alone when updateColumns is empty.
type UpsertWriter[T any] struct {
	name            string
	tableName       string
	conflictColumns []string
	updateColumns   []string
	bulkSize        int
}

// NewUpsertWriter creates a writer. tableName may be empty when T names its
// table. bulkSize < 1 writes a chunk in a single statement.
func NewUpsertWriter[T any](name, tableName string, conflictColumns, updateColumns []string, bulkSize int) *UpsertWriter[T] {
	return &UpsertWriter[T]{
		name:            name,
		tableName:       tableName,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
		bulkSize:        bulkSize,
	}
}

var _ port.ItemWriter[any] = (*UpsertWriter[any])(nil)

func (w *UpsertWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if t == nil {
		return exception.NewBatchErrorf(upsertModule, nil, "writer '%s' requires a transaction", w.name)
	}
	size := w.bulkSize
	if size < 1 {
		size = len(items)
	}
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batch := items[start:end]
		if _, err := t.ExecuteUpsert(ctx, &batch, w.tableName, w.conflictColumns, w.updateColumns); err != nil {
			return exception.NewBatchErrorf(upsertModule, err, "writer '%s': upsert of items %d..%d failed", w.name, start, end-1)
		}
	}
	logger.Debugf("UpsertWriter '%s': wrote %d items.", w.name, len(items))
	return nil
}
