// Package sqlite implements the site registry using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/internal"
)

// timeFormat is fixed width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const defaultListLimit = 100

const siteColumns = `id, name, root, auth_username, auth_hash, quota_bytes, used_bytes, created_at, updated_at`

type Repo struct {
	db        *sql.DB
	tableName string
}

func NewRepo(db *sql.DB, tables sitehost.Tables) (*Repo, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("new repo: %w", err)
	}

	return &Repo{db: db, tableName: tables.Sites}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (sitehost.Site, error) {
	var s sitehost.Site
	var idStr, createdAt, updatedAt string
	var username, hash sql.NullString

	if err := row.Scan(&idStr, &s.Name, &s.Root, &username, &hash, &s.QuotaBytes, &s.UsedBytes, &createdAt, &updatedAt); err != nil {
		return sitehost.Site{}, err
	}

	var err error
	s.ID, err = uuid.Parse(idStr)
	if err != nil {
		return sitehost.Site{}, fmt.Errorf("parse uuid: %w", err)
	}

	s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return sitehost.Site{}, fmt.Errorf("parse created_at: %w", err)
	}

	s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return sitehost.Site{}, fmt.Errorf("parse updated_at: %w", err)
	}

	if username.Valid && hash.Valid {
		s.Auth = &sitehost.BasicAuth{Username: username.String, PasswordHash: hash.String}
	}

	return s, nil
}

func (r *Repo) Get(ctx context.Context, name string) (sitehost.Site, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT %s FROM %s WHERE name = ?`, siteColumns, r.tableName)

	s, err := scanSite(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sitehost.Site{}, sitehost.ErrNotFound
		}
		return sitehost.Site{}, fmt.Errorf("get: %w", err)
	}

	return s, nil
}

func (r *Repo) Create(ctx context.Context, ns sitehost.NewSite) (sitehost.Site, error) {
	now := time.Now().UTC()
	id := uuid.New()

	var username, hash sql.NullString
	if ns.Auth != nil {
		username = sql.NullString{String: ns.Auth.Username, Valid: true}
		hash = sql.NullString{String: ns.Auth.PasswordHash, Valid: true}
	}

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (name) DO NOTHING`, r.tableName, siteColumns)

	result, err := r.db.ExecContext(ctx, query,
		id.String(), ns.Name, ns.Root, username, hash, ns.QuotaBytes, formatTime(now), formatTime(now),
	)
	if err != nil {
		return sitehost.Site{}, fmt.Errorf("create: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sitehost.Site{}, fmt.Errorf("create: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return sitehost.Site{}, fmt.Errorf("create %s: %w", ns.Name, sitehost.ErrConflict)
	}

	return r.Get(ctx, ns.Name)
}

func (r *Repo) Delete(ctx context.Context, name string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, r.tableName) //nolint:gosec // table name is validated

	result, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("delete: %w", sitehost.ErrNotFound)
	}

	return nil
}

func (r *Repo) UpdateAuth(ctx context.Context, name string, auth *sitehost.BasicAuth) (sitehost.Site, error) {
	var username, hash sql.NullString
	if auth != nil {
		username = sql.NullString{String: auth.Username, Valid: true}
		hash = sql.NullString{String: auth.PasswordHash, Valid: true}
	}

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`UPDATE %s
		SET auth_username = ?, auth_hash = ?, updated_at = ?
		WHERE name = ?`, r.tableName)

	if err := r.execOne(ctx, "update auth", query, username, hash, formatTime(time.Now()), name); err != nil {
		return sitehost.Site{}, err
	}

	return r.Get(ctx, name)
}

func (r *Repo) UpdateUsedBytes(ctx context.Context, name string, used int64) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`UPDATE %s
		SET used_bytes = ?, updated_at = ?
		WHERE name = ?`, r.tableName)

	return r.execOne(ctx, "update used bytes", query, used, formatTime(time.Now()), name)
}

func (r *Repo) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, sitehost.ErrNotFound)
	}

	return nil
}

func (r *Repo) List(ctx context.Context, q sitehost.ListQuery) (sitehost.ListResult, error) {
	cursor, err := internal.DecodeCursor(q.Cursor)
	if err != nil {
		return sitehost.ListResult{}, fmt.Errorf("list: %w: %w", sitehost.ErrInvalidInput, err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	escapedPrefix := internal.EscapeLikePattern(q.Prefix)

	var query string
	var args []any

	if q.Cursor == "" {
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE name LIKE ? || '%%' ESCAPE '\'
			ORDER BY created_at, name
			LIMIT ?
		`, siteColumns, r.tableName)
		args = []any{escapedPrefix, limit + 1}
	} else {
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE name LIKE ? || '%%' ESCAPE '\' AND (created_at, name) > (?, ?)
			ORDER BY created_at, name
			LIMIT ?
		`, siteColumns, r.tableName)
		args = []any{escapedPrefix, formatTime(cursor.CreatedAt), cursor.Name, limit + 1}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return sitehost.ListResult{}, fmt.Errorf("list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]sitehost.Site, 0, limit)
	for rows.Next() {
		s, scanErr := scanSite(rows)
		if scanErr != nil {
			return sitehost.ListResult{}, fmt.Errorf("list: scan: %w", scanErr)
		}
		items = append(items, s)
	}

	if err := rows.Err(); err != nil {
		return sitehost.ListResult{}, fmt.Errorf("list: rows: %w", err)
	}

	var nextCursor string
	if len(items) > limit {
		// Cursor points to the last item of the current page
		lastItem := items[limit-1]
		nextCursor = internal.EncodeCursor(lastItem.CreatedAt, lastItem.Name)
		items = items[:limit]
	}

	return sitehost.ListResult{Items: items, NextCursor: nextCursor}, nil
}
