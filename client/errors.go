package client

import "errors"

// Errors for configuration and input validation.
var (
	ErrEndpointRequired = errors.New("endpoint is required")
	ErrEmptyPath        = errors.New("path is required")
	ErrSiteRequired     = errors.New("site is required")
)
