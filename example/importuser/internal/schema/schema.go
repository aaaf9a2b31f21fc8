// Package schema creates the people table.
package schema

import (
	"context"
	"embed"
	"io/fs"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql/migration"
)

// MigrationsTable tracks the version of the people schema, separately from
// the job repository schema.
const MigrationsTable = "importuser_schema_migrations"

//go:embed migrations
var migrationsFS embed.FS

// Apply brings the people table of conn up to date.
func Apply(ctx context.Context, conn database.DBConnection) error {
	dialect := conn.Type()
	if dialect == "redshift" {
		dialect = "postgres"
	}
	fsys, err := fs.Sub(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return err
	}
	return migration.NewMigrator(conn).Up(ctx, fsys, ".", MigrationsTable)
}
