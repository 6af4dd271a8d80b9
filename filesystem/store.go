// Package filesystem stores site content on local disk.
//
// All sites live below one storage directory, one subdirectory per site.
// Every operation goes through an os.Root opened on the storage directory,
// so even a path that slipped past confinement cannot leave it. Uploads are
// staged in a private directory next to the sites and renamed into place,
// which keeps replacements atomic.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sagarc03/sitehost"
)

const stagingDir = ".staging"

// Store provides file system storage operations.
type Store struct {
	root *os.Root
}

// NewFileStorage creates a Store on the given root. The root must have been
// opened with an absolute path; site roots are reported below it.
func NewFileStorage(root *os.Root) *Store {
	return &Store{root: root}
}

// Path returns the absolute storage directory.
func (s *Store) Path() string {
	return s.root.Name()
}

func siteDir(site string) (string, error) {
	if !sitehost.IsValidSiteName(site) {
		return "", fmt.Errorf("%w: invalid site name %q", sitehost.ErrInvalidInput, site)
	}
	return site, nil
}

func sitePath(site, rel string) (string, error) {
	dir, err := siteDir(site)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// CreateSiteDir creates the directory for site and returns its absolute path.
func (s *Store) CreateSiteDir(ctx context.Context, site string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir, err := siteDir(site)
	if err != nil {
		return "", err
	}

	if err := s.root.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create site dir %s: %w", site, sitehost.ErrConflict)
		}
		return "", fmt.Errorf("create site dir %s: %w", site, err)
	}

	return filepath.Join(s.root.Name(), dir), nil
}

// RemoveSiteDir deletes the directory for site and everything in it. A
// missing directory is not an error.
func (s *Store) RemoveSiteDir(ctx context.Context, site string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := siteDir(site)
	if err != nil {
		return err
	}

	if err := s.root.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove site dir %s: %w", site, err)
	}

	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Stage writes content to a temp file in the staging directory, computing
// its SHA-256 etag on the way. More than limit bytes fails with
// sitehost.ErrTooLarge and leaves nothing behind.
func (s *Store) Stage(ctx context.Context, site string, content io.Reader, limit int64) (sitehost.StagedFile, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if _, err := siteDir(site); err != nil {
		return nil, err
	}

	if err := s.root.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}

	tmpFile := filepath.Join(stagingDir, tmpFileName())
	t, createErr := s.root.Create(tmpFile)
	if createErr != nil {
		return nil, fmt.Errorf("could not open temp file: %w", createErr)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmpFile); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	h := sha256.New()
	w := io.MultiWriter(h, t)

	limit = max(limit, 0)
	readLimit := limit
	if readLimit < math.MaxInt64 {
		readLimit++
	}

	n, err := io.Copy(w, io.LimitReader(&ctxReader{ctx: ctx, r: content}, readLimit))
	if err != nil {
		return nil, fmt.Errorf("could not copy file contents: %w", err)
	}

	if n > limit {
		return nil, fmt.Errorf("stage %s: %w: more than %d bytes", site, sitehost.ErrTooLarge, limit)
	}

	if err := t.Sync(); err != nil {
		return nil, fmt.Errorf("could not sync written file: %w", err)
	}

	success = true

	return &stagedFile{
		root: s.root,
		site: site,
		tmp:  tmpFile,
		size: n,
		etag: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

type stagedFile struct {
	root *os.Root
	site string
	tmp  string
	size int64
	etag string
	done bool
}

func (f *stagedFile) Size() int64  { return f.size }
func (f *stagedFile) ETag() string { return f.etag }

// Commit renames the staged file to path inside the site, creating
// intermediate directories as needed.
func (f *stagedFile) Commit(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := sitePath(f.site, rel)
	if err != nil {
		return err
	}

	if destDir := filepath.Dir(dest); destDir != "." {
		if err := f.root.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("could not create intermediate directories: %w", err)
		}
	}

	if err := f.root.Rename(f.tmp, dest); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	f.done = true
	return nil
}

func (f *stagedFile) Discard() error {
	if f.done {
		return nil
	}
	f.done = true

	if err := f.root.Remove(f.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard staged file: %w", err)
	}
	return nil
}

// Stat describes one file. Directories are reported as invalid input.
func (s *Store) Stat(ctx context.Context, site, rel string) (sitehost.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return sitehost.FileInfo{}, err
	}

	p, err := sitePath(site, rel)
	if err != nil {
		return sitehost.FileInfo{}, err
	}

	info, err := s.root.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sitehost.FileInfo{}, sitehost.ErrNotFound
		}
		return sitehost.FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	if info.IsDir() {
		return sitehost.FileInfo{}, fmt.Errorf("stat %s: %w: is a directory", rel, sitehost.ErrInvalidInput)
	}

	return sitehost.FileInfo{
		Path:        filepath.ToSlash(rel),
		Size:        info.Size(),
		ContentType: detectContentType(rel),
		UpdatedAt:   info.ModTime().UTC(),
	}, nil
}

// Delete removes a file. Returns sitehost.ErrNotFound if the file does not exist.
func (s *Store) Delete(ctx context.Context, site, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := sitePath(site, rel)
	if err != nil {
		return err
	}

	info, err := s.root.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sitehost.ErrNotFound
		}
		return fmt.Errorf("could not delete file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete %s: %w: is a directory", rel, sitehost.ErrInvalidInput)
	}

	if err := s.root.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sitehost.ErrNotFound
		}
		return fmt.Errorf("could not delete file: %w", err)
	}
	return nil
}

// List recursively walks the site directory and returns every file whose
// slash-separated path starts with prefix, with its size, SHA-256 etag and
// detected content type.
func (s *Store) List(ctx context.Context, site, prefix string) ([]sitehost.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := siteDir(site)
	if err != nil {
		return nil, err
	}

	entries := []sitehost.FileInfo{}

	err = s.walkDir(ctx, dir, func(rel string, info fs.FileInfo) error {
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}

		etag, err := s.hashFile(path.Join(dir, rel))
		if err != nil {
			return err
		}

		entries = append(entries, sitehost.FileInfo{
			Path:        rel,
			Size:        info.Size(),
			ETag:        etag,
			ContentType: detectContentType(rel),
			UpdatedAt:   info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sitehost.ErrNotFound
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return entries, nil
}

// DiskUsage sums the sizes of all regular files of a site.
func (s *Store) DiskUsage(ctx context.Context, site string) (int64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	dir, err := siteDir(site)
	if err != nil {
		return 0, 0, err
	}

	var total int64
	files := 0
	err = s.walkDir(ctx, dir, func(_ string, info fs.FileInfo) error {
		total += info.Size()
		files++
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, sitehost.ErrNotFound
		}
		return 0, 0, fmt.Errorf("disk usage %s: %w", site, err)
	}

	return total, files, nil
}

// walkDir visits every regular file below dir. rel is slash-separated and
// relative to dir. Symlinks are skipped.
func (s *Store) walkDir(ctx context.Context, dir string, visit func(rel string, info fs.FileInfo) error) error {
	return fs.WalkDir(s.root.FS(), filepath.ToSlash(dir), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}

		rel := strings.TrimPrefix(p, filepath.ToSlash(dir)+"/")
		return visit(rel, info)
	})
}

func (s *Store) hashFile(p string) (string, error) {
	f, err := s.root.Open(filepath.FromSlash(p))
	if err != nil {
		return "", fmt.Errorf("walk dir: %w", err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(h, f)

	if closeErr := f.Close(); closeErr != nil {
		slog.Warn("failed to close file", "path", p, "err", closeErr)
	}

	if copyErr != nil {
		return "", fmt.Errorf("walk dir: %w", copyErr)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func detectContentType(p string) string {
	ext := filepath.Ext(p)
	contentType := mime.TypeByExtension(ext)

	if contentType == "" {
		return "application/octet-stream"
	}

	return contentType
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
