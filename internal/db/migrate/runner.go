// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"social-notify/backend/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run applies migrations for driver in the given direction using dsn.
// direction must be "up" or "down". Already being at the target version is not an error.
func Run(driver db.Driver, dsn string, direction string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	sourceDriver, err := iofs.New(db.MigrationFS, db.MigrationDir(driver))
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DatabaseURL(driver, dsn))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	return apply(m, direction)
}

// Up migrates an already open pool to the latest version. The pool stays open.
func Up(conn *sql.DB, driver db.Driver) error {
	sourceDriver, err := iofs.New(db.MigrationFS, db.MigrationDir(driver))
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	var target database.Driver
	switch driver {
	case db.SQLite:
		target, err = sqlite.WithInstance(conn, &sqlite.Config{})
	case db.Postgres:
		target, err = postgres.WithInstance(conn, &postgres.Config{})
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(driver), target)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	// m.Close would close conn through the database driver, so only the source is released.
	defer func() { _ = sourceDriver.Close() }()
	return apply(m, "up")
}

func apply(m *migrate.Migrate, direction string) error {
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// DatabaseURL converts a driver DSN into the URL form golang-migrate expects.
func DatabaseURL(driver db.Driver, dsn string) string {
	if driver != db.SQLite || strings.HasPrefix(dsn, "sqlite://") {
		return dsn
	}
	return "sqlite://" + strings.TrimPrefix(dsn, "file:")
}
