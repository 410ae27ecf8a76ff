package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const ledgerMigrationsTable = "pavetrack_schema_migrations"

// SchemaVersion reports where the ledger schema stands after a run.
type SchemaVersion struct {
	Version uint
	Dirty   bool
	Changed bool
}

func ledgerSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}

// LatestVersion is the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := ledgerSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("read first migration: %w", err)
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read migration after %d: %w", version, err)
		}
		version = next
	}
}

// RunMigrations applies the embedded ledger schema to a PostgreSQL database.
// The shared *sql.DB stays open.
func RunMigrations(db *sql.DB) (SchemaVersion, error) {
	if db == nil {
		return SchemaVersion{}, errors.New("migration database handle is required")
	}

	src, err := ledgerSource()
	if err != nil {
		return SchemaVersion{}, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: ledgerMigrationsTable})
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("create migrator: %w", err)
	}

	var result SchemaVersion
	switch err := migrator.Up(); {
	case err == nil:
		result.Changed = true
	case errors.Is(err, migrate.ErrNoChange):
	default:
		return SchemaVersion{}, fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	result.Version = version
	result.Dirty = dirty
	return result, nil
}
