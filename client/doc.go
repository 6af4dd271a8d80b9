// Package client is a Go client for the sitehost management API.
//
// It wraps the HTTP routes served by package http: site provisioning,
// basic-auth management, file upload and deletion, usage statistics and
// proxy reconciliation. Requests carry the configured API token as a
// bearer token.
//
// # Usage
//
//	c, err := client.New(client.Config{
//	    Endpoint: "http://localhost:5709",
//	    Token:    os.Getenv("SITEHOST_TOKEN"),
//	})
//
//	// Deploy a build directory
//	results, err := c.Upload(ctx, "blog", client.UploadOptions{
//	    LocalPath: "./public",
//	    Recursive: true,
//	})
//	if client.HasUploadErrors(results) { ... }
//
// # Errors
//
// Non-2xx responses are returned as *APIError carrying the status code
// and the server's error code. Use errors.Is with the sentinels:
//
//	if errors.Is(err, client.ErrQuotaExceeded) { ... }
//	if errors.Is(err, client.ErrNotFound) { ... }
package client
