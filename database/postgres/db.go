package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/internal"
)

var sitesColumns = internal.SitesColumns("uuid", "text", "bigint", "timestamp with time zone")

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`
	if err := pool.QueryRow(ctx, query, tableName).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return exists, nil
}

func tableColumns(ctx context.Context, pool *pgxpool.Pool, tableName string) (map[string]internal.Column, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]internal.Column)
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = internal.Column{Name: name, Type: strings.ToLower(dataType), Nullable: nullable == "YES"}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return cols, nil
}

func sitesRows(ctx context.Context, pool *pgxpool.Pool, tableName string) (internal.SitesRows, error) {
	var r internal.SitesRows
	query := internal.SitesRowsQuery(pgx.Identifier{tableName}.Sanitize())
	if err := pool.QueryRow(ctx, query).Scan(&r.HalfAuth, &r.BadUsage); err != nil {
		return internal.SitesRows{}, fmt.Errorf("check rows: %w", err)
	}
	return r, nil
}

// ValidateSchema checks that the sites table exists with the expected
// columns and that no row holds half a credential or an impossible usage.
func ValidateSchema(ctx context.Context, pool *pgxpool.Pool, tables sitehost.Tables) error {
	if err := tables.Validate(); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}
	name := tables.Sites

	exists, err := tableExists(ctx, pool, name)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("validate schema %s: table does not exist", name)
	}

	cols, err := tableColumns(ctx, pool, name)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", name, err)
	}
	if err := internal.CheckColumns(name, sitesColumns, cols); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}

	rows, err := sitesRows(ctx, pool, name)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", name, err)
	}
	if err := rows.Err(name); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}

	return nil
}
