// Package sink is the best-effort relational consumer of runtime events.
// Failures never propagate to the orchestrator; events are buffered and
// retried.
package sink

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open connects to the configured backend. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "sqlite":
		return sql.Open("sqlite", dsn)
	case "postgres":
		return sql.Open("pgx", dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Migrator builds a migrator over the embedded migration files.
func Migrator(db *sql.DB, driver string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	switch driver {
	case "sqlite":
		inst, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("sqlite migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite", inst)
	case "postgres":
		inst, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			return nil, fmt.Errorf("pgx migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "pgx", inst)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// MigrateUp applies all pending migrations. A no-change run is not an error.
func MigrateUp(db *sql.DB, driver string) error {
	m, err := Migrator(db, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
