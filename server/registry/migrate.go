package registry

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ferryd/ferry/server/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ensureSchema brings the registry database up to the current schema.
// Called on open so a fresh deployment needs no separate migrate step.
func ensureSchema(path string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Migrate applies schema migrations to the sqlite registry at path.
// Supported commands: "up", "down", "version".
func Migrate(logger logging.Logger, path string, command string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "version":
		ver, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		logger.Info(context.Background(), "registry schema version", "version", ver, "dirty", dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q (use: up, down, version)", command)
	}
	ver, dirty, _ := m.Version()
	logger.Info(context.Background(), "registry schema migrated", "version", ver, "dirty", dirty)
	return nil
}
