package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sagarc03/sitehost"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 30 * time.Second

// Client performs operations against a sitehost management API.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// New creates a new Client with the given config and options.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointRequired
	}

	c := &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do executes req and decodes a 2xx JSON response into out. out may be nil.
func (c *Client) do(req *http.Request, out any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, parseServerError(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, fmt.Errorf("parse response: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	_, err = c.do(req, out)
	return err
}

func sitePath(site string) string {
	return "/sites/" + url.PathEscape(site)
}

// CreateSite provisions a site.
func (c *Client) CreateSite(ctx context.Context, req sitehost.CreateSite) (sitehost.Site, error) {
	var site sitehost.Site
	if err := c.doJSON(ctx, http.MethodPost, "/sites", req, &site); err != nil {
		return sitehost.Site{}, fmt.Errorf("create site %s: %w", req.Name, err)
	}
	return site, nil
}

// GetSite returns a single site.
func (c *Client) GetSite(ctx context.Context, name string) (sitehost.Site, error) {
	var site sitehost.Site
	if err := c.doJSON(ctx, http.MethodGet, sitePath(name), nil, &site); err != nil {
		return sitehost.Site{}, fmt.Errorf("get site %s: %w", name, err)
	}
	return site, nil
}

// DeleteSite removes a site and its files.
func (c *Client) DeleteSite(ctx context.Context, name string) error {
	if err := c.doJSON(ctx, http.MethodDelete, sitePath(name), nil, nil); err != nil {
		return fmt.Errorf("delete site %s: %w", name, err)
	}
	return nil
}

// ListSites lists sites, following cursors when opts.All is set.
func (c *Client) ListSites(ctx context.Context, opts ListOptions) (*sitehost.ListResult, error) {
	if !opts.All {
		return c.listPage(ctx, opts)
	}

	all := &sitehost.ListResult{Items: []sitehost.Site{}}
	for {
		page, err := c.listPage(ctx, opts)
		if err != nil {
			return nil, err
		}
		all.Items = append(all.Items, page.Items...)

		if page.NextCursor == "" {
			return all, nil
		}
		opts.Cursor = page.NextCursor
	}
}

func (c *Client) listPage(ctx context.Context, opts ListOptions) (*sitehost.ListResult, error) {
	query := url.Values{}
	if opts.Prefix != "" {
		query.Set("prefix", opts.Prefix)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}

	path := "/sites"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var result sitehost.ListResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return &result, nil
}

// SetAuth protects a site with basic auth.
func (c *Client) SetAuth(ctx context.Context, name string, creds sitehost.Credentials) (sitehost.Site, error) {
	var site sitehost.Site
	if err := c.doJSON(ctx, http.MethodPut, sitePath(name)+"/auth", creds, &site); err != nil {
		return sitehost.Site{}, fmt.Errorf("set auth %s: %w", name, err)
	}
	return site, nil
}

// ClearAuth removes basic auth from a site.
func (c *Client) ClearAuth(ctx context.Context, name string) (sitehost.Site, error) {
	var site sitehost.Site
	if err := c.doJSON(ctx, http.MethodDelete, sitePath(name)+"/auth", nil, &site); err != nil {
		return sitehost.Site{}, fmt.Errorf("clear auth %s: %w", name, err)
	}
	return site, nil
}

// Upload uploads file(s) to a site.
// For recursive uploads, walks directory and preserves relative paths.
func (c *Client) Upload(ctx context.Context, site string, opts UploadOptions) ([]UploadResult, error) {
	if site == "" {
		return nil, fmt.Errorf("upload: %w", ErrSiteRequired)
	}
	if opts.LocalPath == "" {
		return nil, fmt.Errorf("upload: %w", ErrEmptyPath)
	}
	if opts.Recursive {
		return c.uploadRecursive(ctx, site, opts)
	}

	remotePath := opts.RemotePath
	if remotePath == "" {
		remotePath = filepath.Base(opts.LocalPath)
	}
	result, err := c.uploadSingle(ctx, site, opts.LocalPath, remotePath, opts.ContentType)
	if err != nil {
		return nil, err
	}
	return []UploadResult{result}, nil
}

// uploadRecursive walks a directory and uploads all files. Failures are
// recorded per file and the walk continues.
func (c *Client) uploadRecursive(ctx context.Context, site string, opts UploadOptions) ([]UploadResult, error) {
	info, err := os.Stat(opts.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("stat local path: %w", err)
	}

	if !info.IsDir() {
		return c.Upload(ctx, site, UploadOptions{LocalPath: opts.LocalPath, RemotePath: opts.RemotePath, ContentType: opts.ContentType})
	}

	var results []UploadResult
	baseDir := opts.LocalPath
	remotePrefix := strings.Trim(opts.RemotePath, "/")

	walkErr := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, fileErr error) error {
		if fileErr != nil {
			return fileErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		relPath, relErr := filepath.Rel(baseDir, path)
		if relErr != nil {
			results = append(results, UploadResult{
				LocalPath: path,
				Err:       fmt.Errorf("calculate relative path: %w", relErr),
			})
			return nil
		}

		remotePath := filepath.ToSlash(relPath)
		if remotePrefix != "" {
			remotePath = remotePrefix + "/" + remotePath
		}

		result, uploadErr := c.uploadSingle(ctx, site, path, remotePath, "")
		if uploadErr != nil {
			result = UploadResult{
				LocalPath:  path,
				RemotePath: remotePath,
				Err:        uploadErr,
			}
		}
		results = append(results, result)
		return nil
	})

	if walkErr != nil {
		return results, fmt.Errorf("walk directory: %w", walkErr)
	}

	return results, nil
}

// uploadSingle streams one local file to the site.
func (c *Client) uploadSingle(ctx context.Context, site, localPath, remotePath, contentType string) (UploadResult, error) {
	file, err := os.Open(localPath) //#nosec G304 -- localPath is user-provided input
	if err != nil {
		return UploadResult{}, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat file: %w", err)
	}

	if contentType == "" {
		contentType = detectContentType(localPath)
	}

	remotePath = NormalizeLocalToRemotePath(remotePath)
	if remotePath == "" {
		return UploadResult{}, fmt.Errorf("upload %s: %w", localPath, ErrEmptyPath)
	}

	req, err := c.newRequest(ctx, http.MethodPut, sitePath(site)+"/files/"+escapePath(remotePath), file)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = info.Size()

	var out sitehost.UploadResult
	if _, err := c.do(req, &out); err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", remotePath, err)
	}

	return UploadResult{
		LocalPath:  localPath,
		RemotePath: out.File.Path,
		ETag:       out.File.ETag,
		Size:       out.File.Size,
		Replaced:   out.Replaced,
		UsedBytes:  out.UsedBytes,
		QuotaBytes: out.QuotaBytes,
	}, nil
}

// HasUploadErrors returns true if any upload result contains an error.
func HasUploadErrors(results []UploadResult) bool {
	for i := range results {
		if results[i].Err != nil {
			return true
		}
	}
	return false
}

// DeleteFile removes one file from a site and returns the site's usage.
func (c *Client) DeleteFile(ctx context.Context, site, path string) (sitehost.Usage, error) {
	path = NormalizeLocalToRemotePath(path)
	if path == "" {
		return sitehost.Usage{}, fmt.Errorf("delete file: %w", ErrEmptyPath)
	}

	var usage sitehost.Usage
	if err := c.doJSON(ctx, http.MethodDelete, sitePath(site)+"/files/"+escapePath(path), nil, &usage); err != nil {
		return sitehost.Usage{}, fmt.Errorf("delete file %s: %w", path, err)
	}
	return usage, nil
}

// ListFiles lists a site's files under prefix.
func (c *Client) ListFiles(ctx context.Context, site, prefix string) ([]sitehost.FileInfo, error) {
	path := sitePath(site) + "/files"
	if prefix != "" {
		path += "?" + url.Values{"prefix": {prefix}}.Encode()
	}

	var result fileList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("list files %s: %w", site, err)
	}
	return result.Items, nil
}

// Stats returns usage statistics for a site.
func (c *Client) Stats(ctx context.Context, site string) (sitehost.SiteStats, error) {
	var stats sitehost.SiteStats
	if err := c.doJSON(ctx, http.MethodGet, sitePath(site)+"/stats", nil, &stats); err != nil {
		return sitehost.SiteStats{}, fmt.Errorf("stats %s: %w", site, err)
	}
	return stats, nil
}

// SyncProxy asks the server to reconcile the proxy with its registry.
func (c *Client) SyncProxy(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/proxy/sync", nil, nil); err != nil {
		return fmt.Errorf("sync proxy: %w", err)
	}
	return nil
}

// escapePath escapes each segment of a slash separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// NormalizeLocalToRemotePath converts a local path to a clean remote path.
// It handles:
//   - Leading "./" is stripped (./foo/bar.txt -> foo/bar.txt)
//   - Leading "/" is stripped (/abs/path/file.txt -> abs/path/file.txt)
//   - Parent traversal is resolved (../sibling/file.txt -> sibling/file.txt)
//   - Multiple slashes are collapsed
//   - Backslashes are converted to forward slashes
func NormalizeLocalToRemotePath(localPath string) string {
	path := strings.ReplaceAll(localPath, `\`, "/")
	path = filepath.ToSlash(filepath.Clean(path))

	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")

	for strings.HasPrefix(path, "../") {
		path = strings.TrimPrefix(path, "../")
	}

	if path == ".." || path == "." {
		return ""
	}

	return path
}

// detectContentType returns MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}

	return mimeType
}

// parseServerError builds an *APIError from a non-2xx response.
func parseServerError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		apiErr.Code = eb.Error
		apiErr.Message = eb.Message
		apiErr.RetryAfter = eb.RetryAfter
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	msg := "server error: " + strconv.Itoa(e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

// Is reports whether target matches this error. It matches an *APIError
// with the same StatusCode whose Code is empty or equal.
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.StatusCode == e.StatusCode && (t.Code == "" || t.Code == e.Code)
}

// Sentinel errors for common API error conditions.
// Use errors.Is() to check for these conditions.
var (
	ErrNotFound      = &APIError{StatusCode: http.StatusNotFound}
	ErrUnauthorized  = &APIError{StatusCode: http.StatusUnauthorized}
	ErrConflict      = &APIError{StatusCode: http.StatusConflict}
	ErrQuotaExceeded = &APIError{StatusCode: http.StatusRequestEntityTooLarge, Code: "quota_exceeded"}
	ErrInvalidPath   = &APIError{StatusCode: http.StatusBadRequest, Code: "invalid_path"}
	ErrRateLimited   = &APIError{StatusCode: http.StatusTooManyRequests}
)
