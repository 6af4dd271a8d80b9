// Package postgres implements the site registry using PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/internal"
)

// Tables is an alias for sitehost.Tables for package compatibility.
type Tables = sitehost.Tables

const defaultListLimit = 100

const siteColumns = `id, name, root, auth_username, auth_hash, quota_bytes, used_bytes, created_at, updated_at`

type Repo struct {
	pool      *pgxpool.Pool
	tableName string
}

func NewRepo(pool *pgxpool.Pool, tables Tables) (*Repo, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("new repo: %w", err)
	}

	return &Repo{pool: pool, tableName: tables.Sites}, nil
}

// Ping verifies database connectivity
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanSite(row pgx.Row) (sitehost.Site, error) {
	var s sitehost.Site
	var username, hash *string

	if err := row.Scan(&s.ID, &s.Name, &s.Root, &username, &hash, &s.QuotaBytes, &s.UsedBytes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return sitehost.Site{}, err
	}

	if username != nil && hash != nil {
		s.Auth = &sitehost.BasicAuth{Username: *username, PasswordHash: *hash}
	}

	return s, nil
}

func authColumns(auth *sitehost.BasicAuth) (username, hash *string) {
	if auth == nil {
		return nil, nil
	}
	return &auth.Username, &auth.PasswordHash
}

func (r *Repo) Get(ctx context.Context, name string) (sitehost.Site, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = $1`, siteColumns, r.tableName)

	s, err := scanSite(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sitehost.Site{}, sitehost.ErrNotFound
		}
		return sitehost.Site{}, fmt.Errorf("get: %w", err)
	}

	return s, nil
}

func (r *Repo) Create(ctx context.Context, ns sitehost.NewSite) (sitehost.Site, error) {
	username, hash := authColumns(ns.Auth)

	query := fmt.Sprintf(`
		INSERT INTO %s (name, root, auth_username, auth_hash, quota_bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING
		RETURNING %s
	`, r.tableName, siteColumns)

	s, err := scanSite(r.pool.QueryRow(ctx, query, ns.Name, ns.Root, username, hash, ns.QuotaBytes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sitehost.Site{}, fmt.Errorf("create %s: %w", ns.Name, sitehost.ErrConflict)
		}
		return sitehost.Site{}, fmt.Errorf("create: %w", err)
	}

	return s, nil
}

func (r *Repo) Delete(ctx context.Context, name string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, r.tableName)

	result, err := r.pool.Exec(ctx, query, name)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("delete: %w", sitehost.ErrNotFound)
	}

	return nil
}

func (r *Repo) UpdateAuth(ctx context.Context, name string, auth *sitehost.BasicAuth) (sitehost.Site, error) {
	username, hash := authColumns(auth)

	query := fmt.Sprintf(`
		UPDATE %s
		SET auth_username = $1, auth_hash = $2, updated_at = NOW()
		WHERE name = $3
		RETURNING %s
	`, r.tableName, siteColumns)

	s, err := scanSite(r.pool.QueryRow(ctx, query, username, hash, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sitehost.Site{}, fmt.Errorf("update auth: %w", sitehost.ErrNotFound)
		}
		return sitehost.Site{}, fmt.Errorf("update auth: %w", err)
	}

	return s, nil
}

func (r *Repo) UpdateUsedBytes(ctx context.Context, name string, used int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET used_bytes = $1, updated_at = NOW()
		WHERE name = $2
	`, r.tableName)

	result, err := r.pool.Exec(ctx, query, used, name)
	if err != nil {
		return fmt.Errorf("update used bytes: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update used bytes: %w", sitehost.ErrNotFound)
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
			WHERE name LIKE $1 || '%%' ESCAPE '\'
			ORDER BY created_at, name
			LIMIT $2
		`, siteColumns, r.tableName)
		args = []any{escapedPrefix, limit + 1}
	} else {
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE name LIKE $1 || '%%' ESCAPE '\' AND (created_at, name) > ($2, $3)
			ORDER BY created_at, name
			LIMIT $4
		`, siteColumns, r.tableName)
		args = []any{escapedPrefix, cursor.CreatedAt, cursor.Name, limit + 1}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return sitehost.ListResult{}, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	items := make([]sitehost.Site, 0, limit)
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return sitehost.ListResult{}, fmt.Errorf("list: scan: %w", err)
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
