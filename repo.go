package sitehost

import (
	"context"
	"io"
)

// SiteRepo is the site registry. Implementations must be safe for concurrent
// use and respect context cancellation.
type SiteRepo interface {
	// Get returns the site with the given name, or ErrNotFound.
	Get(ctx context.Context, name string) (Site, error)

	// List returns sites ordered by creation time, optionally filtered by
	// name prefix, paginated with an opaque cursor.
	List(ctx context.Context, q ListQuery) (ListResult, error)

	// Create inserts a new site. Returns ErrConflict if the name is taken.
	Create(ctx context.Context, s NewSite) (Site, error)

	// Delete removes the site row. Returns ErrNotFound if absent.
	Delete(ctx context.Context, name string) error

	// UpdateAuth replaces the site's basic-auth credential; nil clears it.
	UpdateAuth(ctx context.Context, name string, auth *BasicAuth) (Site, error)

	// UpdateUsedBytes persists the ledger's used counter for the site.
	UpdateUsedBytes(ctx context.Context, name string, used int64) error
}

// FileStorage manages per-site directories and their content. Paths passed
// to it are relative to the site directory and have already been confined.
type FileStorage interface {
	// CreateSiteDir creates the site's directory and returns its absolute
	// path. Returns ErrConflict if it already exists.
	CreateSiteDir(ctx context.Context, name string) (string, error)

	// RemoveSiteDir deletes the site's directory and everything below it.
	RemoveSiteDir(ctx context.Context, name string) error

	// Stage writes content to a temporary file outside the site tree.
	// Returns ErrTooLarge once more than limit bytes have been read.
	Stage(ctx context.Context, site string, content io.Reader, limit int64) (StagedFile, error)

	// Stat describes a file. Returns ErrNotFound if it does not exist.
	Stat(ctx context.Context, site, path string) (FileInfo, error)

	// Delete removes a file. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, site, path string) error

	// List returns the files below prefix.
	List(ctx context.Context, site, prefix string) ([]FileInfo, error)

	// DiskUsage walks the site directory and sums file sizes.
	DiskUsage(ctx context.Context, site string) (bytes int64, files int, err error)
}

// StagedFile is uploaded content waiting to be moved into place.
type StagedFile interface {
	Size() int64
	ETag() string

	// Commit atomically moves the staged file to path inside the site,
	// replacing any existing file.
	Commit(ctx context.Context, path string) error

	// Discard removes the staged file. Safe to call after Commit.
	Discard() error
}

// ProxySyncer keeps the reverse proxy's routes in line with the registry.
type ProxySyncer interface {
	Put(ctx context.Context, site Site) error
	Remove(ctx context.Context, name string) error
	Sync(ctx context.Context) error

	// Forget drops any state kept for a site whose registry row is gone.
	Forget(name string)
}
