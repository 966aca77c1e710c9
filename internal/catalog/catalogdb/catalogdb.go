// Package catalogdb persists the podcast catalog behind database/sql.
// Postgres through the pgx stdlib driver is the production backend; SQLite
// keeps development and tests self-contained. Both understand the $n
// placeholders and ON CONFLICT clauses used here, so the SQL is written
// once.
package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"

	// File-based migration source.
	_ "github.com/golang-migrate/migrate/v4/source/file"

	// Database drivers.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DriverFor picks the database/sql driver for a DSN. Postgres URLs get the
// pgx driver; anything else is treated as a SQLite path.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}

	return DriverSQLite
}

// Open connects to the catalog database and verifies the connection. The
// pool is capped at maxConns so download workers cannot starve the server.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(DriverFor(dsn), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}

	return db, nil
}

// Migrate applies pending schema migrations from sourceURL (a file:// URL).
// Already-applied migrations are skipped.
func Migrate(db *sql.DB, dsn, sourceURL string) error {
	var (
		driver database.Driver
		err    error
	)

	driverName := DriverFor(dsn)

	switch driverName {
	case DriverPostgres:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}

	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, driverName, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
