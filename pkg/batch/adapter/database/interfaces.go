// Package database declares the database connection contracts shared by the
// job repository, item readers and item writers.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
)

// DBExecutor holds the operations available on a connection outside of a
// managed transaction.
type DBExecutor interface {
	// ExecuteUpdate runs "CREATE", "UPDATE" or "DELETE" for model on tableName.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns on a conflict of
	// conflictColumns (DO NOTHING when updateColumns is empty).
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery loads the rows matching query into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced is ExecuteQuery with ordering, offset and limit.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, offset, limit int) error

	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection is a named, configured database connection.
type DBConnection interface {
	DBExecutor

	Name() string
	Type() string
	Close() error

	// IsTableNotExistError reports whether err means a missing table.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the pool.
	RefreshConnection(ctx context.Context) error
	Config() dbconfig.DatabaseConfig
	GetSQLDB() (*sql.DB, error)
}

// DBProvider opens and caches connections of one database type.
type DBProvider interface {
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and reopens the named connection.
	ForceReconnect(name string) (DBConnection, error)
	CloseAll() error
	Type() string
}

// DBConnectionResolver returns a healthy connection by configured name.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProviderGroup is the fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
