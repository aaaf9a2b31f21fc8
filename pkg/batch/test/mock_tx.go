package test

import (
	"context"
	"database/sql"
	"sync"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// MockTx is a testify mock of tx.Tx.
type MockTx struct {
	mock.Mock
}

func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) Savepoint(name string) error {
	return m.Called(name).Error(0)
}

func (m *MockTx) RollbackToSavepoint(name string) error {
	return m.Called(name).Error(0)
}

// MockTxManager is a testify mock of tx.TransactionManager.
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

func (m *MockTxManager) Commit(t tx.Tx) error {
	return m.Called(t).Error(0)
}

func (m *MockTxManager) Rollback(t tx.Tx) error {
	return m.Called(t).Error(0)
}

// RecordingTxManager is a transaction manager that only counts lifecycle calls.
// CommitErrs are returned by successive Commit calls before commits succeed.
type RecordingTxManager struct {
	mu         sync.Mutex
	Begins     int
	Commits    int
	Rollbacks  int
	CommitErrs []error
}

func (m *RecordingTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Begins++
	return tx.NewNoOpTransactionManager().Begin(ctx, opts...)
}

func (m *RecordingTxManager) Commit(t tx.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CommitErrs) > 0 {
		err := m.CommitErrs[0]
		m.CommitErrs = m.CommitErrs[1:]
		return err
	}
	m.Commits++
	return nil
}

func (m *RecordingTxManager) Rollback(t tx.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rollbacks++
	return nil
}

var (
	_ tx.Tx                 = (*MockTx)(nil)
	_ tx.TransactionManager = (*MockTxManager)(nil)
	_ tx.TransactionManager = (*RecordingTxManager)(nil)
)
