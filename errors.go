package sitehost

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("not found")
	// ErrInternal is returned when an internal error occurs
	ErrInternal = errors.New("internal error")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned when authentication fails
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when a resource already exists
	ErrConflict = errors.New("already exists")
	// ErrPathRejected is returned when a path resolves outside its site root
	ErrPathRejected = errors.New("path outside site root")
	// ErrQuotaExceeded is returned when a write would exceed the site quota
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrRateLimited is returned when a caller exhausted its request window
	ErrRateLimited = errors.New("rate limited")
	// ErrProxySync is returned when the reverse proxy could not be updated
	ErrProxySync = errors.New("proxy sync failed")
	// ErrStorageIO is returned when the filesystem write or delete failed
	ErrStorageIO = errors.New("storage i/o failed")
	// ErrTooLarge is returned when staged content exceeds its size limit
	ErrTooLarge = errors.New("content too large")
)

// QuotaError reports a rejected reservation together with the ledger state
// at the moment of rejection.
type QuotaError struct {
	Site      string
	Used      int64
	Quota     int64
	Requested int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("site %s: %s: used %d of %d bytes, requested %d", e.Site, ErrQuotaExceeded, e.Used, e.Quota, e.Requested)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
