package sitehost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sagarc03/sitehost/internal/keymutex"
	"go.uber.org/multierr"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultCleanupTimeout = 30 * time.Second
	recountPageSize       = 500
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SiteService owns the site lifecycle and the upload admission pipeline.
//
// Every mutation of a site's content goes through the same steps: the
// target path is confined to the site root, the content is staged, the
// byte delta is reserved in the quota ledger, the staged file is moved into
// place and only then is the reservation committed. A failure after the
// reservation rolls it back.
//
// Changes to one site are serialized: a lifecycle operation holds the site
// across its whole registry, proxy and directory sequence, and an upload or
// delete holds it while the quota is charged and the file moved.
type SiteService struct {
	repo           SiteRepo
	storage        FileStorage
	proxy          ProxySyncer
	ledger         *Ledger
	defaultQuota   int64
	cleanupTimeout time.Duration
	bcryptCost     int

	sites keymutex.Map
}

// ServiceConfig holds configuration options for SiteService.
type ServiceConfig struct {
	DefaultQuota   int64
	CleanupTimeout time.Duration // Timeout for compensating actions (default: 30s)
	BcryptCost     int           // 0 selects bcrypt.DefaultCost
}

func NewSiteService(repo SiteRepo, storage FileStorage, proxy ProxySyncer, cfg ServiceConfig) (*SiteService, error) {
	if repo == nil || storage == nil || proxy == nil {
		return nil, errors.New("new site service: repo, storage and proxy are required")
	}
	if cfg.DefaultQuota <= 0 {
		return nil, fmt.Errorf("new site service: invalid default quota: %d", cfg.DefaultQuota)
	}

	cleanupTimeout := cfg.CleanupTimeout
	if cleanupTimeout <= 0 {
		cleanupTimeout = defaultCleanupTimeout
	}

	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return &SiteService{
		repo:           repo,
		storage:        storage,
		proxy:          proxy,
		ledger:         NewLedger(repo),
		defaultQuota:   cfg.DefaultQuota,
		cleanupTimeout: cleanupTimeout,
		bcryptCost:     cost,
	}, nil
}

// Ledger exposes the quota ledger, e.g. for metrics.
func (s *SiteService) Ledger() *Ledger {
	return s.ledger
}

func (s *SiteService) cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cleanupTimeout)
}

func (s *SiteService) hashCredentials(c Credentials) (*BasicAuth, error) {
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return &BasicAuth{Username: c.Username, PasswordHash: string(hash)}, nil
}

// CreateSite provisions a site: its directory, its registry row and its
// proxy route. The site is reported created only once the proxy accepted
// the route. Any failure undoes the earlier steps.
func (s *SiteService) CreateSite(ctx context.Context, req CreateSite) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, fmt.Errorf("create site: %w", err)
	}

	if err := validate.Struct(req); err != nil {
		return Site{}, fmt.Errorf("create site: %w: %v", ErrInvalidInput, err)
	}

	if !IsValidSiteName(req.Name) {
		return Site{}, fmt.Errorf("create site %q: %w: name must be a lowercase DNS label", req.Name, ErrInvalidInput)
	}

	quota := req.QuotaBytes
	if quota == 0 {
		quota = s.defaultQuota
	}

	var auth *BasicAuth
	if req.Auth != nil {
		hashed, err := s.hashCredentials(*req.Auth)
		if err != nil {
			return Site{}, fmt.Errorf("create site %s: %w", req.Name, err)
		}
		auth = hashed
	}

	unlock := s.sites.Lock(req.Name)
	defer unlock()

	if _, err := s.repo.Get(ctx, req.Name); err == nil {
		return Site{}, fmt.Errorf("create site %s: %w", req.Name, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Site{}, fmt.Errorf("create site %s: %w", req.Name, err)
	}

	root, err := s.storage.CreateSiteDir(ctx, req.Name)
	if err != nil {
		return Site{}, fmt.Errorf("create site %s: %w", req.Name, err)
	}

	site, err := s.repo.Create(ctx, NewSite{
		Name:       req.Name,
		Root:       root,
		Auth:       auth,
		QuotaBytes: quota,
	})
	if err != nil {
		s.removeDir(req.Name)
		return Site{}, fmt.Errorf("create site %s: %w", req.Name, err)
	}

	if syncErr := s.proxy.Put(ctx, site); syncErr != nil {
		s.undoCreate(site)
		return Site{}, fmt.Errorf("create site %s: %w", req.Name, syncErr)
	}

	slog.Info("site created", "site", site.Name, "root", site.Root, "quota_bytes", site.QuotaBytes)
	return site, nil
}

// undoCreate reverses a partially created site. Failures are logged.
func (s *SiteService) undoCreate(site Site) {
	ctx, cancel := s.cleanupContext()
	defer cancel()

	// The proxy may have applied the route before reporting failure.
	if err := s.proxy.Remove(ctx, site.Name); err != nil {
		slog.Error("rollback create: remove route failed", "site", site.Name, "err", err)
	}

	if err := s.repo.Delete(ctx, site.Name); err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("rollback create: delete registry row failed", "site", site.Name, "err", err)
	} else {
		s.proxy.Forget(site.Name)
	}

	if err := s.storage.RemoveSiteDir(ctx, site.Name); err != nil {
		slog.Error("rollback create: remove directory failed", "site", site.Name, "err", err)
	}

	s.ledger.Forget(site.Name)
}

func (s *SiteService) removeDir(name string) {
	ctx, cancel := s.cleanupContext()
	defer cancel()

	if err := s.storage.RemoveSiteDir(ctx, name); err != nil {
		slog.Error("rollback create: remove directory failed", "site", name, "err", err)
	}
}

func (s *SiteService) GetSite(ctx context.Context, name string) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, fmt.Errorf("get site: %w", err)
	}

	if !IsValidSiteName(name) {
		return Site{}, fmt.Errorf("get site %q: %w", name, ErrNotFound)
	}

	site, err := s.repo.Get(ctx, name)
	if err != nil {
		return Site{}, fmt.Errorf("get site %s: %w", name, err)
	}

	return site, nil
}

func (s *SiteService) ListSites(ctx context.Context, q ListQuery) (ListResult, error) {
	if err := ctx.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list sites: %w", err)
	}

	result, err := s.repo.List(ctx, q)
	if err != nil {
		return ListResult{}, fmt.Errorf("list sites: %w", err)
	}

	return result, nil
}

// DeleteSite removes the proxy route first so the site stops being served,
// then the registry row, then the directory. If the route cannot be removed
// the site is left intact.
func (s *SiteService) DeleteSite(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete site: %w", err)
	}

	unlock := s.sites.Lock(name)
	defer unlock()

	site, err := s.GetSite(ctx, name)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}

	if err := s.proxy.Remove(ctx, name); err != nil {
		return fmt.Errorf("delete site %s: %w", name, err)
	}

	if err := s.repo.Delete(ctx, name); err != nil {
		cleanupCtx, cancel := s.cleanupContext()
		defer cancel()

		if putErr := s.proxy.Put(cleanupCtx, site); putErr != nil {
			slog.Error("rollback delete: restore route failed", "site", name, "err", putErr)
		}
		return fmt.Errorf("delete site %s: %w", name, err)
	}

	s.ledger.Forget(name)
	s.proxy.Forget(name)

	if err := s.storage.RemoveSiteDir(ctx, name); err != nil {
		slog.Error("delete site: remove directory failed", "site", name, "root", site.Root, "err", err)
	}

	slog.Info("site deleted", "site", name)
	return nil
}

// SetAuth protects a site with basic auth.
func (s *SiteService) SetAuth(ctx context.Context, name string, creds Credentials) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, fmt.Errorf("set auth: %w", err)
	}

	auth, err := s.hashCredentials(creds)
	if err != nil {
		return Site{}, fmt.Errorf("set auth %s: %w", name, err)
	}

	site, err := s.updateAuth(ctx, name, auth)
	if err != nil {
		return Site{}, fmt.Errorf("set auth: %w", err)
	}

	return site, nil
}

// ClearAuth makes a site public again.
func (s *SiteService) ClearAuth(ctx context.Context, name string) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, fmt.Errorf("clear auth: %w", err)
	}

	site, err := s.updateAuth(ctx, name, nil)
	if err != nil {
		return Site{}, fmt.Errorf("clear auth: %w", err)
	}

	return site, nil
}

// updateAuth stores the credential and refreshes the route. If the proxy
// rejects the route, the previous credential is restored in both places.
// The site is read under its lock, so a site deleted meanwhile is NotFound.
func (s *SiteService) updateAuth(ctx context.Context, name string, auth *BasicAuth) (Site, error) {
	unlock := s.sites.Lock(name)
	defer unlock()

	prev, err := s.GetSite(ctx, name)
	if err != nil {
		return Site{}, err
	}

	site, err := s.repo.UpdateAuth(ctx, name, auth)
	if err != nil {
		return Site{}, fmt.Errorf("%s: %w", name, err)
	}

	if syncErr := s.proxy.Put(ctx, site); syncErr != nil {
		cleanupCtx, cancel := s.cleanupContext()
		defer cancel()

		if _, revertErr := s.repo.UpdateAuth(cleanupCtx, name, prev.Auth); revertErr != nil {
			slog.Error("rollback auth: restore credential failed", "site", name, "err", revertErr)
		} else if putErr := s.proxy.Put(cleanupCtx, prev); putErr != nil {
			slog.Error("rollback auth: restore route failed", "site", name, "err", putErr)
		}
		return Site{}, fmt.Errorf("%s: %w", name, syncErr)
	}

	return site, nil
}

// Upload stores content at userPath inside the site.
//
// Content is staged without holding the site. The byte delta is charged,
// and the file moved into place, under the site lock after checking that
// the site still exists. An overwrite is charged only the difference between
// the new and the old size. When the old size cannot be determined the full
// new size is charged and a later recount reconciles.
func (s *SiteService) Upload(ctx context.Context, name, userPath string, content io.Reader) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}

	site, err := s.GetSite(ctx, name)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}

	abs, rel, err := confineFile(site.Root, userPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}

	oldSize, _, err := s.previousSize(ctx, name, rel)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s/%s: %w", name, rel, err)
	}

	usage, err := s.ledger.Usage(ctx, name)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}
	limit := max(usage.QuotaBytes-usage.UsedBytes+oldSize, 0)

	staged, err := s.storage.Stage(ctx, name, content, limit)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return UploadResult{}, fmt.Errorf("upload %s/%s: %w", name, rel, &QuotaError{
				Site: name, Used: usage.UsedBytes, Quota: usage.QuotaBytes, Requested: limit + 1 - oldSize,
			})
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return UploadResult{}, fmt.Errorf("upload %s/%s: %w", name, rel, err)
		}
		return UploadResult{}, fmt.Errorf("upload %s/%s: %w: %w", name, rel, ErrStorageIO, err)
	}
	defer func() {
		if discardErr := staged.Discard(); discardErr != nil {
			slog.Warn("upload: discard staged file failed", "site", name, "err", discardErr)
		}
	}()

	unlock := s.sites.Lock(name)
	defer unlock()

	if _, err := s.repo.Get(ctx, name); err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}

	// Read again under the lock: another upload of the same path may have
	// replaced the file while this one was staging.
	oldSize, replaced, err := s.previousSize(ctx, name, rel)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s/%s: %w", name, rel, err)
	}

	res, err := s.ledger.Reserve(ctx, name, staged.Size()-oldSize)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s/%s: %w", name, rel, err)
	}

	if err := staged.Commit(ctx, rel); err != nil {
		s.ledger.Rollback(res)
		return UploadResult{}, fmt.Errorf("upload %s/%s: %w: %w", name, rel, ErrStorageIO, err)
	}

	committed, err := s.ledger.Commit(ctx, res)
	if err != nil {
		slog.Error("upload: persist usage failed", "site", name, "err", err)
	}

	slog.Debug("file stored", "site", name, "path", abs, "size", staged.Size(), "delta", res.Bytes)

	return UploadResult{
		File: FileInfo{
			Path:      rel,
			Size:      staged.Size(),
			ETag:      staged.ETag(),
			UpdatedAt: time.Now().UTC(),
		},
		Replaced:   replaced,
		UsedBytes:  committed.UsedBytes,
		QuotaBytes: committed.QuotaBytes,
	}, nil
}

// previousSize returns the size of the file an upload would replace. A size
// that cannot be read counts as zero, so the full new size is charged.
func (s *SiteService) previousSize(ctx context.Context, name, rel string) (int64, bool, error) {
	existing, err := s.storage.Stat(ctx, name, rel)
	switch {
	case err == nil:
		return existing.Size, true, nil
	case errors.Is(err, ErrNotFound):
		return 0, false, nil
	case errors.Is(err, ErrInvalidInput):
		return 0, false, err
	default:
		slog.Warn("upload: previous size unknown, charging full size", "site", name, "path", rel, "err", err)
		return 0, false, nil
	}
}

// DeleteFile removes a file and releases its bytes.
func (s *SiteService) DeleteFile(ctx context.Context, name, userPath string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, fmt.Errorf("delete file: %w", err)
	}

	site, err := s.GetSite(ctx, name)
	if err != nil {
		return Usage{}, fmt.Errorf("delete file: %w", err)
	}

	_, rel, err := confineFile(site.Root, userPath)
	if err != nil {
		return Usage{}, fmt.Errorf("delete file %s: %w", name, err)
	}

	unlock := s.sites.Lock(name)
	defer unlock()

	info, err := s.storage.Stat(ctx, name, rel)
	if err != nil {
		return Usage{}, fmt.Errorf("delete file %s/%s: %w", name, rel, err)
	}

	if err := s.storage.Delete(ctx, name, rel); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Usage{}, fmt.Errorf("delete file %s/%s: %w", name, rel, err)
		}
		return Usage{}, fmt.Errorf("delete file %s/%s: %w: %w", name, rel, ErrStorageIO, err)
	}

	usage, err := s.ledger.Release(ctx, name, info.Size)
	if err != nil {
		slog.Error("delete file: persist usage failed", "site", name, "err", err)
	}

	return usage, nil
}

// ListFiles lists files below prefix inside the site.
func (s *SiteService) ListFiles(ctx context.Context, name, prefix string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	site, err := s.GetSite(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	if _, err := Confine(site.Root, prefix); err != nil {
		return nil, fmt.Errorf("list files %s: %w", name, err)
	}

	files, err := s.storage.List(ctx, name, prefix)
	if err != nil {
		return nil, fmt.Errorf("list files %s: %w", name, err)
	}

	return files, nil
}

// Stats reports usage for a site. Used bytes come from the ledger, the file
// count from walking the directory.
func (s *SiteService) Stats(ctx context.Context, name string) (SiteStats, error) {
	if err := ctx.Err(); err != nil {
		return SiteStats{}, fmt.Errorf("site stats: %w", err)
	}

	if _, err := s.GetSite(ctx, name); err != nil {
		return SiteStats{}, fmt.Errorf("site stats: %w", err)
	}

	usage, err := s.ledger.Usage(ctx, name)
	if err != nil {
		return SiteStats{}, fmt.Errorf("site stats %s: %w", name, err)
	}

	_, files, err := s.storage.DiskUsage(ctx, name)
	if err != nil {
		return SiteStats{}, fmt.Errorf("site stats %s: %w", name, err)
	}

	stats := SiteStats{
		Name:       name,
		UsedBytes:  usage.UsedBytes,
		QuotaBytes: usage.QuotaBytes,
		FileCount:  files,
	}
	if usage.QuotaBytes > 0 {
		stats.Percentage = float64(usage.UsedBytes) * 100 / float64(usage.QuotaBytes)
	}

	return stats, nil
}

// Recount measures the site directory and overwrites the ledger's used
// counter with the result.
func (s *SiteService) Recount(ctx context.Context, name string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, fmt.Errorf("recount: %w", err)
	}

	unlock := s.sites.Lock(name)
	defer unlock()

	if _, err := s.GetSite(ctx, name); err != nil {
		return Usage{}, fmt.Errorf("recount: %w", err)
	}

	used, _, err := s.storage.DiskUsage(ctx, name)
	if err != nil {
		return Usage{}, fmt.Errorf("recount %s: %w", name, err)
	}

	usage, err := s.ledger.Recount(ctx, name, used)
	if err != nil {
		return Usage{}, fmt.Errorf("recount %s: %w", name, err)
	}

	return usage, nil
}

// RecountAll recounts every site. It keeps going past individual failures
// and returns them combined.
func (s *SiteService) RecountAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("recount all: %w", err)
	}

	var errs error
	count := 0
	cursor := ""

	for {
		result, err := s.repo.List(ctx, ListQuery{Limit: recountPageSize, Cursor: cursor})
		if err != nil {
			return count, fmt.Errorf("recount all: %w", err)
		}

		for _, site := range result.Items {
			if _, err := s.Recount(ctx, site.Name); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			count++
		}

		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	return count, errs
}

// SyncProxy reconciles the proxy with the full registry.
func (s *SiteService) SyncProxy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync proxy: %w", err)
	}

	if err := s.proxy.Sync(ctx); err != nil {
		return fmt.Errorf("sync proxy: %w", err)
	}

	return nil
}
