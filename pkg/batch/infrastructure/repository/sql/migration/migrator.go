// Package migration applies embedded golang-migrate schemas to a configured
// database connection.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultMigrationsTable records the version of the job repository schema.
const DefaultMigrationsTable = "batch_schema_migrations"

// Migrator runs migrations against one connection.
type Migrator struct {
	conn database.DBConnection
}

func NewMigrator(conn database.DBConnection) *Migrator {
	return &Migrator{conn: conn}
}

// driver returns the migrate driver and whether closing it is safe. The
// postgres and mysql drivers run on a dedicated *sql.Conn; the sqlite3 driver
// would close the shared pool.
func (m *Migrator) driver(ctx context.Context, table string) (migratedb.Driver, bool, error) {
	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	switch m.conn.Type() {
	case "postgres", "redshift":
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, false, err
		}
		d, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: table})
		return d, true, err
	case "mysql":
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, false, err
		}
		d, err := mysql.WithConnection(ctx, conn, &mysql.Config{MigrationsTable: table})
		return d, true, err
	case "sqlite":
		d, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: table})
		return d, false, err
	default:
		return nil, false, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}

func (m *Migrator) run(ctx context.Context, fsys fs.FS, dir, table string, fn func(*migrate.Migrate) error) error {
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to create iofs source for path %s: %w", dir, err)
	}
	driver, closable, err := m.driver(ctx, table)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	mi, err := migrate.NewWithInstance("iofs", source, m.conn.Type(), driver)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		if closable {
			_, _ = mi.Close()
			return
		}
		_ = source.Close()
	}()

	if err := fn(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed (DB: %s, path: %s): %w", m.conn.Type(), dir, err)
	}
	return nil
}

// Up applies every pending migration found in dir of fsys. The version is
// tracked in table.
func (m *Migrator) Up(ctx context.Context, fsys fs.FS, dir, table string) error {
	logger.Infof("Applying migrations '%s' to connection '%s' (table: %s).", dir, m.conn.Name(), table)
	return m.run(ctx, fsys, dir, table, func(mi *migrate.Migrate) error {
		if err := mi.Up(); err != nil {
			return err
		}
		version, dirty, _ := mi.Version()
		logger.Infof("Migrations '%s' at version %d (dirty: %t).", dir, version, dirty)
		return nil
	})
}

// Down rolls back every migration found in dir of fsys.
func (m *Migrator) Down(ctx context.Context, fsys fs.FS, dir, table string) error {
	return m.run(ctx, fsys, dir, table, func(mi *migrate.Migrate) error { return mi.Down() })
}
