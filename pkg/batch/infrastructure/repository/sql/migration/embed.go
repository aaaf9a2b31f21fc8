package migration

import (
	"context"
	"embed"
	"io/fs"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
)

//go:embed schema
var schemaFS embed.FS

// RepositorySchema returns the job repository migrations for dbType
// ("sqlite", "postgres" or "mysql") as the root of an fs.FS.
func RepositorySchema(dbType string) (fs.FS, error) {
	if dbType == "redshift" {
		dbType = "postgres"
	}
	return fs.Sub(schemaFS, "schema/"+dbType)
}

// ApplyRepositorySchema brings the job repository tables of conn up to date.
func ApplyRepositorySchema(ctx context.Context, conn database.DBConnection) error {
	fsys, err := RepositorySchema(conn.Type())
	if err != nil {
		return err
	}
	return NewMigrator(conn).Up(ctx, fsys, ".", DefaultMigrationsTable)
}
