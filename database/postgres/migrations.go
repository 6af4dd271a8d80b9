package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/sitehost"
)

// Migrate creates the registry tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables sitehost.Tables) error {
	if err := tables.Validate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := createSitesTable(ctx, pool, tables.Sites); err != nil {
		return fmt.Errorf("migrate up %s: %w", tables.Sites, err)
	}

	return nil
}

// DropTables removes the registry tables.
func DropTables(ctx context.Context, pool *pgxpool.Pool, tables sitehost.Tables) error {
	quotedTable := pgx.Identifier{tables.Sites}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quotedTable)); err != nil {
		return fmt.Errorf("migrate down %s: %w", tables.Sites, err)
	}
	return nil
}

func createSitesTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	indexList := pgx.Identifier{fmt.Sprintf("idx_%s_list", tableName)}.Sanitize()

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL UNIQUE,
			root TEXT NOT NULL,
			auth_username TEXT,
			auth_hash TEXT,
			quota_bytes BIGINT NOT NULL CHECK (quota_bytes > 0),
			used_bytes BIGINT NOT NULL DEFAULT 0 CHECK (used_bytes >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS %s
		ON %s (created_at, name);
	`,
		quotedTable,
		indexList, quotedTable,
	)

	_, err := pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create sites table: %w", err)
	}
	return nil
}
