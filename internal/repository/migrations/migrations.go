// Package migrations applies the embedded schema for the configured driver.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/logger"
)

//go:embed sql
var migrationsFS embed.FS

// Migrator manages schema migrations on a dedicated connection
type Migrator struct {
	migrate *migrate.Migrate
	log     *logger.Logger
}

// New opens its own connection to dsn; Close releases it.
func New(driver, dsn string, log *logger.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "sql/"+driver)
	if err != nil {
		return nil, fmt.Errorf("open migration source for %s: %w", driver, err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}

	var target database.Driver
	switch driver {
	case config.DriverPostgres:
		target, err = postgres.WithInstance(db, &postgres.Config{})
	case config.DriverSQLite:
		target, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return &Migrator{migrate: m, log: log}, nil
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		// re-run the half-applied migration, its statements use IF NOT EXISTS
		prev := int(version) - 1
		if prev < 1 {
			prev = database.NilVersion
		}
		m.log.Warn("schema is dirty, re-running migration", "version", version, "forced_to", prev)
		if err := m.migrate.Force(prev); err != nil {
			return fmt.Errorf("force schema version: %w", err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Debug("schema up to date", "version", version)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	newVersion, _, _ := m.migrate.Version()
	m.log.Info("schema migrated", "version", newVersion)
	return nil
}

// Version returns the applied schema version
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close releases the migration connection
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// Run is the startup path: open, apply, close.
func Run(driver, dsn string, log *logger.Logger) error {
	m, err := New(driver, dsn, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
