package client

import "github.com/sagarc03/sitehost"

// Config holds the connection settings for a sitehost server.
type Config struct {
	Endpoint string
	Token    string
}

// UploadOptions configures an upload operation.
type UploadOptions struct {
	LocalPath   string
	RemotePath  string
	ContentType string // optional, auto-detect if empty
	Recursive   bool
}

// UploadResult represents the result of uploading a single file.
type UploadResult struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	ETag       string `json:"etag,omitempty"`
	Size       int64  `json:"size_bytes"`
	Replaced   bool   `json:"replaced"`
	UsedBytes  int64  `json:"used_bytes"`
	QuotaBytes int64  `json:"quota_bytes"`
	Err        error  `json:"-"` // nil on success
}

// ListOptions configures a site listing.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
	All    bool // auto-paginate through all results
}

// fileList mirrors the server's file listing response.
type fileList struct {
	Items []sitehost.FileInfo `json:"items"`
}

// errorBody mirrors the server's JSON error response.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
