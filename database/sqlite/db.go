package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/internal"
)

// SQLite stores uuids and timestamps as text.
var sitesColumns = internal.SitesColumns("text", "text", "integer", "text")

func tableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, tableName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return true, nil
}

func tableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]internal.Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdentifier(tableName)))
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]internal.Column)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = internal.Column{Name: name, Type: strings.ToLower(dataType), Nullable: notNull == 0}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return cols, nil
}

func sitesRows(ctx context.Context, db *sql.DB, tableName string) (internal.SitesRows, error) {
	var r internal.SitesRows
	query := internal.SitesRowsQuery(quoteIdentifier(tableName))
	if err := db.QueryRowContext(ctx, query).Scan(&r.HalfAuth, &r.BadUsage); err != nil {
		return internal.SitesRows{}, fmt.Errorf("check rows: %w", err)
	}
	return r, nil
}

// ValidateSchema checks that the sites table exists with the expected
// columns and that no row holds half a credential or an impossible usage.
func ValidateSchema(ctx context.Context, db *sql.DB, tables sitehost.Tables) error {
	if err := tables.Validate(); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}
	name := tables.Sites

	exists, err := tableExists(ctx, db, name)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("validate schema %s: table does not exist", name)
	}

	cols, err := tableColumns(ctx, db, name)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", name, err)
	}
	if err := internal.CheckColumns(name, sitesColumns, cols); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}

	rows, err := sitesRows(ctx, db, name)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", name, err)
	}
	if err := rows.Err(name); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}

	return nil
}
