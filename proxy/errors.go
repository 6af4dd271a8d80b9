package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sagarc03/sitehost"
	"go.uber.org/multierr"
)

var (
	// ErrUnreachable is returned when the proxy admin endpoint could not be
	// contacted or did not answer in time.
	ErrUnreachable = errors.New("proxy unreachable")
	// ErrRouteNotFound is returned when removing a route id the proxy does not know.
	ErrRouteNotFound = errors.New("route not found")
)

// APIError is a non-success answer from the proxy admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("proxy admin: status %d: %s", e.StatusCode, e.Message)
}

// RouteError ties a failure to the route it happened on.
type RouteError struct {
	RouteID string
	Op      string
	Err     error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s route %s: %v", e.Op, e.RouteID, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// SyncError reports a sync that did not fully apply. It wraps every
// underlying failure, so errors.Is matches ErrUnreachable and friends as
// well as sitehost.ErrProxySync.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	errs := multierr.Errors(e.Err)
	if len(errs) <= 1 {
		return fmt.Sprintf("proxy %s: %v", e.Op, e.Err)
	}

	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("proxy %s: %d failures: %s", e.Op, len(errs), strings.Join(msgs, "; "))
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) Is(target error) bool {
	return target == sitehost.ErrProxySync
}

// Errors returns the individual failures.
func (e *SyncError) Errors() []error {
	return multierr.Errors(e.Err)
}

func newSyncError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Op: op, Err: err}
}
