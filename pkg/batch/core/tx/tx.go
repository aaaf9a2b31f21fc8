// Package tx abstracts the transaction that bounds one chunk: the sink write and,
// when the checkpoint store shares the database, the checkpoint write commit or
// roll back together.
package tx

import (
	"context"
	"database/sql"
)

// TxExecutor defines the write operations available inside a transaction.
type TxExecutor interface {
	// ExecuteUpdate runs "CREATE", "UPDATE" or "DELETE" for model on tableName.
	// query holds column=value conditions combined with AND.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns when conflictColumns
	// collide. An empty updateColumns means DO NOTHING on conflict.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx represents an ongoing transaction.
type Tx interface {
	TxExecutor

	Savepoint(name string) error
	RollbackToSavepoint(name string) error
}

// TransactionManager begins, commits and rolls back transactions.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

type txKey struct{}

// WithTx returns a context carrying t so that participants (checkpoint stores,
// writers) can join the chunk transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction stored by WithTx.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}
