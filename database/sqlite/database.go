package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sagarc03/sitehost"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB provides SQLite database operations.
type DB struct {
	db     *sql.DB
	tables sitehost.Tables
}

// Connect opens a SQLite database. Tables should be validated before
// calling Connect.
//
// SQLite allows a single writer, and every connection to ":memory:" is its
// own database, so the pool is limited to one connection.
func Connect(ctx context.Context, dsn string, tables sitehost.Tables) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	return &DB{
		db:     db,
		tables: tables,
	}, nil
}

// Ping verifies the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations to create required tables.
func (d *DB) Migrate(ctx context.Context) error {
	if err := Migrate(ctx, d.db, d.tables); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Validate checks that the database schema matches expected structure.
func (d *DB) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.db, d.tables)
}

// GetRepo returns the SiteRepo for registry operations.
func (d *DB) GetRepo() sitehost.SiteRepo {
	return &Repo{db: d.db, tableName: d.tables.Sites}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
