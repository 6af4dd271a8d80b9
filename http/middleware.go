package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/ratelimit"
)

// KeyStore resolves a bearer token to the id of the API key it belongs to.
type KeyStore interface {
	Lookup(token string) (string, error)
}

// Identity is the caller of a request as seen by the admission pipeline.
type Identity struct {
	// KeyID is set when the request carried a valid bearer token.
	KeyID string
	// ClientIP is the resolved originating address.
	ClientIP string
	// Err is the reason a presented token was rejected.
	Err error
}

// Authenticated reports whether the caller presented a valid API key.
func (i Identity) Authenticated() bool {
	return i.KeyID != ""
}

// Key is the rate limiting key: the API key id when authenticated, the
// client address otherwise.
func (i Identity) Key() string {
	if i.KeyID != "" {
		return "key:" + i.KeyID
	}
	return "ip:" + i.ClientIP
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity resolved by AuthMiddleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware resolves the caller's identity and stores it in the request
// context. It never rejects: a missing or invalid token leaves the identity
// keyed by client address so that the rate limiter sees it before
// RequireKey turns it away. Pass nil keys to disable token lookup.
func AuthMiddleware(keys KeyStore, ips *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{ClientIP: ips.ClientIP(r)}

			if token, present := bearerToken(r); present {
				switch {
				case keys == nil:
					id.Err = errors.New("api keys are not configured")
				case token == "":
					id.Err = errors.New("malformed authorization header")
				default:
					keyID, err := keys.Lookup(token)
					if err != nil {
						id.Err = err
					} else {
						id.KeyID = keyID
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireKey rejects requests without a valid API key. When required is
// false, anonymous callers pass but a presented, invalid token is still
// rejected.
func RequireKey(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())

			if id.Err != nil {
				HandleError(w, errors.Join(sitehost.ErrUnauthorized, id.Err))
				return
			}

			if required && !id.Authenticated() {
				w.Header().Set("WWW-Authenticate", `Bearer realm="sitehost"`)
				HandleError(w, sitehost.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DecisionObserver is notified of every rate limiting decision.
type DecisionObserver interface {
	ObserveDecision(allowed bool)
}

type rateLimitOptions struct {
	now      func() time.Time
	observer DecisionObserver
}

// RateLimitOption configures RateLimitMiddleware.
type RateLimitOption func(*rateLimitOptions)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.now = now
	}
}

// WithDecisionObserver reports decisions to o.
func WithDecisionObserver(o DecisionObserver) RateLimitOption {
	return func(opts *rateLimitOptions) {
		opts.observer = o
	}
}

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// RateLimitMiddleware admits requests through l keyed by the identity that
// AuthMiddleware resolved. Every response carries RateLimit-Limit,
// RateLimit-Remaining and RateLimit-Reset (seconds). Rejected requests get
// 429 with Retry-After and reach no handler. A nil limiter disables the
// middleware.
func RateLimitMiddleware(l *ratelimit.Limiter, opts ...RateLimitOption) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	o := rateLimitOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				id = Identity{ClientIP: (*ClientIPResolver)(nil).ClientIP(r)}
			}

			d := l.Admit(id.Key(), o.now())
			if o.observer != nil {
				o.observer.ObserveDecision(d.Allowed)
			}

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				retry := max(ceilSeconds(d.RetryAfter), 1)
				h.Set("RateLimit-Reset", strconv.Itoa(retry))
				h.Set("Retry-After", strconv.Itoa(retry))
				HandleError(w, &RateLimitError{RetryAfter: retry})
				return
			}

			h.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(d.Reset)))
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitError is a rejected admission. RetryAfter is in whole seconds.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return sitehost.ErrRateLimited.Error() + ": retry after " + strconv.Itoa(e.RetryAfter) + "s"
}

func (e *RateLimitError) Is(target error) bool {
	return target == sitehost.ErrRateLimited
}
