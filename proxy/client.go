package proxy

import "context"

// Client applies routes to a reverse proxy.
type Client interface {
	// Routes returns the sitehost-managed routes currently configured.
	Routes(ctx context.Context) ([]Route, error)

	// Replace sets the complete route list.
	Replace(ctx context.Context, routes []Route) error

	// Add appends one route. The id must not already be present.
	Add(ctx context.Context, route Route) error

	// Remove deletes the route with id. Returns ErrRouteNotFound if absent.
	Remove(ctx context.Context, id string) error
}
