package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// NewMigrator builds a migrator for db using the embedded migrations of
// driver. Closing the migrator also closes db.
func NewMigrator(db *sql.DB, driver string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	var target database.Driver
	switch driver {
	case DriverPostgres:
		target, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("init migration driver: %w", err)
	}

	return migrate.NewWithInstance("iofs", source, driver, target)
}

// MigrateUp applies every pending up migration.
func MigrateUp(db *sql.DB, driver string) error {
	migrator, err := NewMigrator(db, driver)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up failed: %w", err)
	}
	return nil
}

// MigrateDown reverts steps migrations, or all of them when steps <= 0.
func MigrateDown(db *sql.DB, driver string, steps int) error {
	migrator, err := NewMigrator(db, driver)
	if err != nil {
		return err
	}
	if steps > 0 {
		err = migrator.Steps(-steps)
	} else {
		err = migrator.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down failed: %w", err)
	}
	return nil
}
