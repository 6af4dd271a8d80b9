// Package proxy keeps the reverse proxy's routing table consistent with the
// site registry.
//
// Every site maps to one Route: a host matcher for "{site}.{domain}", an
// optional basic-auth handler and a file server rooted at the site
// directory. The handler order is fixed by the Route type itself, so a
// protected site can never be served before authentication runs.
//
// A Synchronizer applies routes through a Client using one of two
// strategies:
//
//   - Declarative regenerates the whole route set from the registry and
//     replaces the proxy's list in one call.
//   - Incremental adds and removes single routes by their stable id. Adding
//     is idempotent (remove-then-add) and removing a missing route succeeds.
//
// CaddyClient talks to the Caddy admin API. MemoryClient keeps routes in
// process and is used for development and tests.
package proxy
