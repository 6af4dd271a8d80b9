package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/config"
	"github.com/sagarc03/sitehost/database"
	"github.com/sagarc03/sitehost/filesystem"
	"github.com/sagarc03/sitehost/metrics"
	"github.com/sagarc03/sitehost/proxy"
)

// app is the wired dependency graph shared by every command.
type app struct {
	cfg     *config.Config
	db      database.Database
	root    *os.Root
	storage *filesystem.Store
	proxy   *proxy.Synchronizer
	service *sitehost.SiteService
	metrics *metrics.Metrics
}

func newProxyClient(cfg config.ProxyConfig) (proxy.Client, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("using in-memory proxy client, routes are not applied to a real proxy")
		return proxy.NewMemoryClient(), nil
	case "caddy":
		return proxy.NewCaddyClient(proxy.CaddyConfig{
			AdminURL: cfg.AdminURL,
			Server:   cfg.Server,
			Timeout:  cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported proxy driver: %s", cfg.Driver)
	}
}

// openApp connects the registry, opens the storage root and builds the
// proxy synchronizer and site service. The caller must Close the app.
func openApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	a.db, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	slog.Debug("connected to database", "type", cfg.Database.Type)

	if err = os.MkdirAll(cfg.Storage.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	a.root, err = os.OpenRoot(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	a.storage = filesystem.NewFileStorage(a.root)

	client, err := newProxyClient(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	strategy, err := proxy.ParseStrategy(cfg.Proxy.Strategy)
	if err != nil {
		return nil, err
	}

	repo := a.db.GetRepo()

	a.proxy, err = proxy.NewSynchronizer(client, repo, strategy, cfg.Proxy.Domain, proxy.WithObserver(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("create proxy synchronizer: %w", err)
	}

	a.service, err = sitehost.NewSiteService(repo, a.storage, a.proxy, sitehost.ServiceConfig{
		DefaultQuota:   cfg.Storage.DefaultQuota,
		CleanupTimeout: time.Duration(cfg.Service.CleanupTimeout) * time.Second,
		BcryptCost:     cfg.Service.BcryptCost,
	})
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	return a, nil
}

// Close releases the storage root and the database.
func (a *app) Close() error {
	var err error
	if a.root != nil {
		err = multierr.Append(err, a.root.Close())
		a.root = nil
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
		a.db = nil
	}
	return err
}

// appFromContext loads the config stored by the root command and opens the
// app with it.
func appFromContext(ctx context.Context) (*app, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg)
}
