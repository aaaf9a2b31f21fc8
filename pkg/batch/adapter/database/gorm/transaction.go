package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a GORM transaction.
type GormTxAdapter struct {
	db   *gorm.DB
	name string
}

var _ tx.Tx = (*GormTxAdapter)(nil)

// DB returns the transaction handle.
func (t *GormTxAdapter) DB() *gorm.DB {
	return t.db
}

// ConnectionName is the configured connection the transaction runs on.
func (t *GormTxAdapter) ConnectionName() string {
	return t.name
}

func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.db.WithContext(ctx), model, operation, tableName, query)
}

func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.db.WithContext(ctx), model, tableName, conflictColumns, updateColumns)
}

func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// TxDB returns the GORM handle of t when t is a GORM transaction.
func TxDB(t tx.Tx) (*gorm.DB, bool) {
	g, ok := t.(*GormTxAdapter)
	if !ok || g == nil {
		return nil, false
	}
	return g.db, true
}

// DBFromContext returns the handle of the chunk transaction in ctx, if it is a
// GORM transaction.
func DBFromContext(ctx context.Context) (*gorm.DB, bool) {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return nil, false
	}
	return TxDB(t)
}

// ConnectionTxFromContext returns the chunk transaction in ctx only when it
// runs on the connection named name.
func ConnectionTxFromContext(ctx context.Context, name string) (*gorm.DB, bool) {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return nil, false
	}
	g, ok := t.(*GormTxAdapter)
	if !ok || g == nil || g.name != name {
		return nil, false
	}
	return g.db, true
}

// GormTransactionManager implements tx.TransactionManager for one named
// connection, resolved (and reconnected if needed) on every Begin.
type GormTransactionManager struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

var _ tx.TransactionManager = (*GormTransactionManager)(nil)

func NewGormTransactionManager(dbResolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{dbResolver: dbResolver, dbName: dbName}
}

func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	adapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("connection '%s' is not a GORM connection", m.dbName)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	gormTx := adapter.GormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx, name: m.dbName}, nil
}

func (m *GormTransactionManager) Commit(t tx.Tx) error {
	db, ok := TxDB(t)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return db.Commit().Error
}

func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	db, ok := TxDB(t)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return db.Rollback().Error
}

// GormTransactionManagerFactory builds transaction managers per connection name.
type GormTransactionManagerFactory struct {
	dbResolver database.DBConnectionResolver
}

func NewGormTransactionManagerFactory(dbResolver database.DBConnectionResolver) *GormTransactionManagerFactory {
	return &GormTransactionManagerFactory{dbResolver: dbResolver}
}

func (f *GormTransactionManagerFactory) NewTransactionManager(dbName string) tx.TransactionManager {
	return NewGormTransactionManager(f.dbResolver, dbName)
}
