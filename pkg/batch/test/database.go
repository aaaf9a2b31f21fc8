package test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
)

// SingleConnectionResolver resolves every name to one connection.
type SingleConnectionResolver struct {
	Conn database.DBConnection
}

func (r *SingleConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return r.Conn, nil
}

// NewSQLMockConnection opens a MySQL-dialect GORM connection named name over
// go-sqlmock. GORM's implicit write transactions are disabled so that every
// statement maps to exactly one expectation.
func NewSQLMockConnection(t *testing.T, name string) (*gormadapter.GormDBAdapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(db, dbconfig.DatabaseConfig{Type: "mysql"}, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn, mock
}
