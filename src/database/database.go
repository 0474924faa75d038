package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// InitDB opens the SQLite archive at databasePath and applies any pending
// migrations. SQLite allows one writer, so the pool holds one connection.
func InitDB(databasePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.L.Info("Checking database migrations", "databasePath", databasePath)
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.L.Info("Database tables ensured/created.")
	return db, nil
}

// Migrate applies the embedded migrations. Migrations only move forward;
// existing rows are never dropped to reconcile a schema.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	// m.Close would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.L.Info("Database schema version", "version", version, "dirty", dirty)
	}
	return nil
}

// ColumnNames lists the columns of table in declaration order.
func ColumnNames(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("error querying table schema for %q: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var cid, notnull, pk int
		var name, dataType string
		var dflt any
		if err := rows.Scan(&cid, &name, &dataType, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("error scanning column info for %q: %w", table, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
