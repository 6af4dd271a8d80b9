package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/sitehost/config"
	sitehosthttp "github.com/sagarc03/sitehost/http"
	"github.com/sagarc03/sitehost/keybackend"
	"github.com/sagarc03/sitehost/metrics"
	"github.com/sagarc03/sitehost/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the management API server",
	Long: `Start the sitehost management API.

On startup the proxy is reconciled with the registry and every site's
usage is recounted from disk. Partial failures of either are logged and
do not prevent the server from starting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 5709, "HTTP server port (env: SITEHOST_SERVER_PORT)")
	serveCmd.Flags().Bool("migrate", true, "create missing registry tables on startup")
	rootCmd.AddCommand(serveCmd)
}

func newLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	if !cfg.Enabled {
		return nil
	}
	return ratelimit.New(ratelimit.Config{
		Window:      cfg.Window,
		MaxRequests: cfg.MaxRequests,
		Shards:      cfg.Shards,
	})
}

func newRouter(a *app, limiter *ratelimit.Limiter) (http.Handler, error) {
	cfg := a.cfg

	keys, err := keybackend.NewKeyStore(cfg.Auth.Keys)
	if err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}
	if cfg.Auth.Required && keys.Len() == 0 {
		return nil, errors.New("auth.required is set but no api keys are configured")
	}

	ips, err := sitehosthttp.NewClientIPResolver(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	if err := a.metrics.Register(metrics.NewQuotaCollector(a.service.Ledger())); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	handlerCfg := sitehosthttp.HandlerConfig{
		CORS:          cfg.CORS,
		Keys:          keys,
		AuthRequired:  cfg.Auth.Required,
		ClientIP:      ips,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Metrics:       a.metrics.Handler(),
		Middlewares:   []func(http.Handler) http.Handler{a.metrics.Middleware},
	}

	if limiter != nil {
		if err := a.metrics.Register(metrics.NewLimiterKeysGauge(limiter)); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		handlerCfg.Limiter = limiter
		handlerCfg.RateLimitOptions = []sitehosthttp.RateLimitOption{sitehosthttp.WithDecisionObserver(a.metrics)}
	}

	return sitehosthttp.NewHandler(&handlerCfg, a.service).Router(), nil
}

// reconcile brings the proxy and the quota ledger in line with the registry
// and the disk. Failures are logged; the server still starts.
func reconcile(ctx context.Context, a *app) {
	if err := a.service.SyncProxy(ctx); err != nil {
		slog.Error("startup proxy sync failed", "err", err)
	} else {
		slog.Info("proxy routes reconciled", "strategy", a.proxy.Strategy().Name())
	}

	n, err := a.service.RecountAll(ctx)
	if err != nil {
		slog.Error("startup recount failed", "err", err)
	}
	slog.Info("usage recounted", "sites", n)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := appFromContext(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("close failed", "err", closeErr)
		}
	}()

	cfg := a.cfg

	reconcile(ctx, a)

	limiter := newLimiter(cfg.RateLimit)
	if limiter != nil {
		go limiter.Run(ctx, cfg.RateLimit.SweepInterval, a.metrics.ObserveSweep)
	}

	router, err := newRouter(a, limiter)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}

		slog.Info("shutting down server...")
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server",
		"addr", addr,
		"domain", cfg.Proxy.Domain,
		"proxy", cfg.Proxy.Driver,
		"ratelimit", limiter != nil,
		"auth_required", cfg.Auth.Required,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
