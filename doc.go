// Package sitehost is the control plane for hosting static sites, one per
// subdomain, behind a reverse proxy.
//
// A site is a named directory under a shared storage root, a registry row
// holding its quota and optional basic-auth credential, and a proxy route
// that serves the directory on <name>.<domain>. SiteService keeps the three
// in step: provisioning rolls back completed steps on failure, and uploads
// are admitted only when they fit the site's remaining quota.
//
// # Key Components
//
//   - SiteService: provisioning, uploads, deletes, recounts and proxy sync
//   - Confine: resolves a user supplied path strictly inside a site root
//   - Ledger: per-site used/quota accounting with reservations
//   - SiteRepo: registry persistence (PostgreSQL, SQLite)
//   - FileStorage: per-site directories (filesystem)
//   - ProxySyncer: publishes and removes proxy routes (Caddy)
//
// # Example Usage
//
//	service, err := sitehost.NewSiteService(repo, storage, syncer, sitehost.ServiceConfig{
//	    DefaultQuota: 100 << 20,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Provision a site
//	site, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
//
//	// Upload a file, charged against the site's quota
//	result, err := service.Upload(ctx, "blog", "index.html", reader)
//
// Every error wraps one of the package sentinels (ErrNotFound,
// ErrPathRejected, ErrQuotaExceeded, ...); use errors.Is to classify it.
//
// See the http package for the management API, the proxy package for route
// synchronization and the ratelimit package for admission control.
package sitehost
