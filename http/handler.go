package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/ratelimit"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxJSONBodySize  = 1 << 20
)

// Service is the site lifecycle and admission pipeline behind the API.
type Service interface {
	CreateSite(ctx context.Context, req sitehost.CreateSite) (sitehost.Site, error)
	GetSite(ctx context.Context, name string) (sitehost.Site, error)
	ListSites(ctx context.Context, q sitehost.ListQuery) (sitehost.ListResult, error)
	DeleteSite(ctx context.Context, name string) error
	SetAuth(ctx context.Context, name string, creds sitehost.Credentials) (sitehost.Site, error)
	ClearAuth(ctx context.Context, name string) (sitehost.Site, error)
	Upload(ctx context.Context, name, userPath string, content io.Reader) (sitehost.UploadResult, error)
	DeleteFile(ctx context.Context, name, userPath string) (sitehost.Usage, error)
	ListFiles(ctx context.Context, name, prefix string) ([]sitehost.FileInfo, error)
	Stats(ctx context.Context, name string) (sitehost.SiteStats, error)
	Recount(ctx context.Context, name string) (sitehost.Usage, error)
	SyncProxy(ctx context.Context) error
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	CORS CORSConfig

	// Keys resolves bearer tokens. Nil disables token authentication.
	Keys KeyStore
	// AuthRequired rejects requests without a valid API key.
	AuthRequired bool
	// ClientIP derives the caller address for anonymous identities.
	ClientIP *ClientIPResolver

	// Limiter admits requests per identity. Nil disables rate limiting.
	Limiter          *ratelimit.Limiter
	RateLimitOptions []RateLimitOption

	// MaxUploadSize caps a single upload body. Zero means unlimited.
	MaxUploadSize int64

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Middlewares wrap the whole router, outermost first.
	Middlewares []func(http.Handler) http.Handler
}

// Handler provides the site management API.
type Handler struct {
	config  HandlerConfig
	service Service
}

// NewHandler creates a new Handler with the given configuration and service.
func NewHandler(config *HandlerConfig, service Service) *Handler {
	return &Handler{
		config:  *config,
		service: service,
	}
}

// Router returns an http.Handler with all routes configured. Health and
// metrics endpoints sit outside the admission pipeline; everything else
// passes identity resolution, rate limiting and the key check in that order.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	for _, mw := range h.config.Middlewares {
		r.Use(mw)
	}

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get("/healthz", h.handleHealth)
	if h.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.config.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.Keys, h.config.ClientIP))
		r.Use(RateLimitMiddleware(h.config.Limiter, h.config.RateLimitOptions...))
		r.Use(RequireKey(h.config.AuthRequired))

		r.Route("/sites", func(r chi.Router) {
			r.Post("/", h.handleCreateSite)
			r.Get("/", h.handleListSites)

			r.Route("/{site}", func(r chi.Router) {
				r.Get("/", h.handleGetSite)
				r.Delete("/", h.handleDeleteSite)

				r.Put("/auth", h.handleSetAuth)
				r.Delete("/auth", h.handleClearAuth)

				r.Get("/files", h.handleListFiles)
				r.Put("/files/*", h.handleUpload)
				r.Delete("/files/*", h.handleDeleteFile)

				r.Get("/stats", h.handleStats)
				r.Post("/recount", h.handleRecount)
			})
		})

		r.Post("/proxy/sync", h.handleSyncProxy)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: malformed request body: %v", sitehost.ErrInvalidInput, err)
	}
	return nil
}

// filePath returns the wildcard part of a file route, decoded once.
func filePath(r *http.Request) (string, error) {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return p, nil
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sitehost.ErrPathRejected, err)
	}
	return decoded, nil
}

func (h *Handler) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req sitehost.CreateSite
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}

	site, err := h.service.CreateSite(r.Context(), req)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/sites/"+site.Name)
	_ = WriteJSON(w, http.StatusCreated, site)
}

func (h *Handler) handleListSites(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limitStr := r.URL.Query().Get("limit")
	cursor := r.URL.Query().Get("cursor")

	limit := defaultListLimit
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = max(1, min(maxListLimit, parsed))
		}
	}

	result, err := h.service.ListSites(r.Context(), sitehost.ListQuery{
		Prefix: prefix,
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	if result.Items == nil {
		result.Items = []sitehost.Site{}
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.service.GetSite(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, site)
}

func (h *Handler) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSite(r.Context(), chi.URLParam(r, "site")); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetAuth(w http.ResponseWriter, r *http.Request) {
	var creds sitehost.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		HandleError(w, err)
		return
	}

	site, err := h.service.SetAuth(r.Context(), chi.URLParam(r, "site"), creds)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, site)
}

func (h *Handler) handleClearAuth(w http.ResponseWriter, r *http.Request) {
	site, err := h.service.ClearAuth(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, site)
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.ListFiles(r.Context(), chi.URLParam(r, "site"), r.URL.Query().Get("prefix"))
	if err != nil {
		HandleError(w, err)
		return
	}

	if files == nil {
		files = []sitehost.FileInfo{}
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"items": files})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	path, err := filePath(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	if h.config.MaxUploadSize > 0 && r.ContentLength > h.config.MaxUploadSize {
		HandleError(w, sitehost.ErrTooLarge)
		return
	}

	body := io.Reader(r.Body)
	if h.config.MaxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	}

	result, err := h.service.Upload(r.Context(), chi.URLParam(r, "site"), path, body)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("ETag", `"`+result.File.ETag+`"`)

	code := http.StatusCreated
	if result.Replaced {
		code = http.StatusOK
	}
	_ = WriteJSON(w, code, result)
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path, err := filePath(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	usage, err := h.service.DeleteFile(r.Context(), chi.URLParam(r, "site"), path)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, usage)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRecount(w http.ResponseWriter, r *http.Request) {
	usage, err := h.service.Recount(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, usage)
}

func (h *Handler) handleSyncProxy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SyncProxy(r.Context()); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
