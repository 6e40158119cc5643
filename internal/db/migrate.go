package db

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	apperrors "github.com/azzuriel/clipman/internal/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending migrations and returns the resulting schema
// version. The migrate instance is not closed since that would close db.
func Migrate(db *DB) (uint, bool, error) {
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.ErrMigration, "failed to create sqlite driver", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.ErrMigration, "failed to create iofs source", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.ErrMigration, "failed to create migrate instance", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return 0, false, apperrors.Wrap(apperrors.ErrMigration, "failed to run migrations", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
