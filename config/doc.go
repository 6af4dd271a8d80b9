// Package config provides configuration loading and validation for sitehost.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (SITEHOST_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with SITEHOST_ prefix:
//   - server.port → SITEHOST_SERVER_PORT
//   - proxy.admin_url → SITEHOST_PROXY_ADMIN_URL
//   - ratelimit.window → SITEHOST_RATELIMIT_WINDOW
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: port, max_upload_size and shutdown_timeout
//   - Service: cleanup_timeout bounding compensating actions, bcrypt_cost
//   - Database: type, DSN, auto_migrate and table names
//   - Storage: parent directory of every site root and the default quota
//   - RateLimit: window, max_requests, sweep_interval, shards and trusted_proxies
//   - Proxy: driver (caddy/memory), strategy, admin_url, server and domain
//   - Auth: whether API keys are required, inline keys and keys_file
//   - CORS: cross-origin resource sharing settings
//   - Log: logging level
//
// Durations accept Go duration strings such as "30s" or "1m".
package config
