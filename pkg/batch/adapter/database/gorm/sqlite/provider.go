// Package sqlite registers the SQLite dialect and provider.
package sqlite

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn := ConnectionString(cfg)
		if dsn == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(dsn), nil
	})
	gormadapter.RegisterDuplicateKeyCheck("sqlite", isDuplicateKey)
}

func isDuplicateKey(err error) bool {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// ConnectionString returns the file path (or ":memory:") with foreign keys on
// and a busy timeout so concurrent writers wait instead of failing.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Database == "" {
		return ""
	}
	return c.Database + "?_foreign_keys=on&_busy_timeout=5000"
}

func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, "sqlite")
}

// Module contributes the SQLite provider to the db_providers group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	)),
)
