package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sagarc03/sitehost"
)

// ErrorResponse represents a JSON error response. The optional fields are
// only set for quota and rate limit rejections.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	UsedBytes  *int64 `json:"used_bytes,omitempty"`
	QuotaBytes *int64 `json:"quota_bytes,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	writeErrorResponse(w, code, ErrorResponse{Error: errCode, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, code int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError writes appropriate error response based on error type
func HandleError(w http.ResponseWriter, err error) {
	var (
		quotaErr   *sitehost.QuotaError
		rateErr    *RateLimitError
		maxBytes   *http.MaxBytesError
		validation validator.ValidationErrors
	)

	switch {
	case errors.As(err, &quotaErr):
		slog.Info("quota exceeded", "site", quotaErr.Site, "used", quotaErr.Used, "quota", quotaErr.Quota, "requested", quotaErr.Requested)
		writeErrorResponse(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:      "quota_exceeded",
			Message:    "Site quota exceeded",
			UsedBytes:  &quotaErr.Used,
			QuotaBytes: &quotaErr.Quota,
		})

	case errors.Is(err, sitehost.ErrTooLarge), errors.As(err, &maxBytes):
		slog.Info("request too large", "error", err)
		WriteError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")

	case errors.Is(err, sitehost.ErrPathRejected):
		slog.Warn("path rejected", "error", err)
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid path")

	case errors.Is(err, sitehost.ErrInvalidInput), errors.As(err, &validation):
		slog.Info("invalid input", "error", err)
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())

	case errors.Is(err, sitehost.ErrUnauthorized):
		slog.Info("unauthorized", "error", err)
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")

	case errors.Is(err, sitehost.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Not found")

	case errors.Is(err, sitehost.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", "Site already exists")

	case errors.Is(err, sitehost.ErrRateLimited):
		retry := 1
		if errors.As(err, &rateErr) {
			retry = rateErr.RetryAfter
		}
		writeErrorResponse(w, http.StatusTooManyRequests, ErrorResponse{
			Error:      "rate_limited",
			Message:    "Too many requests",
			RetryAfter: &retry,
		})

	case errors.Is(err, sitehost.ErrProxySync):
		slog.Error("proxy sync failed", "error", err)
		WriteError(w, http.StatusBadGateway, "proxy_sync_failed", "Proxy configuration could not be applied")

	case errors.Is(err, sitehost.ErrStorageIO):
		slog.Error("storage error", "error", err)
		WriteError(w, http.StatusInternalServerError, "storage_error", "Storage error")

	default:
		slog.Error("request error", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
