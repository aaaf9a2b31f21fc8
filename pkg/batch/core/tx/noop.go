package tx

import (
	"context"
	"database/sql"
)

// NoOpTransactionManager hands out transactions that do nothing. It serves sinks
// that are not transactional (object storage, in-memory collectors), where the
// chunk boundary is the Write call itself.
type NoOpTransactionManager struct{}

func NewNoOpTransactionManager() *NoOpTransactionManager {
	return &NoOpTransactionManager{}
}

func (m *NoOpTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return noOpTx{}, nil
}

func (m *NoOpTransactionManager) Commit(t Tx) error   { return nil }
func (m *NoOpTransactionManager) Rollback(t Tx) error { return nil }

type noOpTx struct{}

func (noOpTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, nil
}

func (noOpTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, nil
}

func (noOpTx) Savepoint(name string) error           { return nil }
func (noOpTx) RollbackToSavepoint(name string) error { return nil }
