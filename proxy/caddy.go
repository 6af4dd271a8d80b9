package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAdminURL = "http://localhost:2019"
	DefaultServer   = "sitehost"
	DefaultTimeout  = 5 * time.Second
)

// CaddyConfig locates the Caddy admin API and the HTTP server whose route
// list sitehost manages.
type CaddyConfig struct {
	AdminURL string
	Server   string
	Timeout  time.Duration
}

// CaddyClient drives the Caddy admin API.
//
// The configured server's routes array is owned by sitehost: Replace
// overwrites it. Add and Remove work by route id through Caddy's "@id"
// shortcut.
type CaddyClient struct {
	adminURL   string
	server     string
	timeout    time.Duration
	httpClient *http.Client
}

// CaddyOption configures a CaddyClient.
type CaddyOption func(*CaddyClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) CaddyOption {
	return func(c *CaddyClient) {
		c.httpClient = client
	}
}

func NewCaddyClient(cfg CaddyConfig, opts ...CaddyOption) (*CaddyClient, error) {
	adminURL := strings.TrimSuffix(cfg.AdminURL, "/")
	if adminURL == "" {
		adminURL = DefaultAdminURL
	}
	if _, err := url.ParseRequestURI(adminURL); err != nil {
		return nil, fmt.Errorf("new caddy client: invalid admin url: %w", err)
	}

	server := cfg.Server
	if server == "" {
		server = DefaultServer
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &CaddyClient{
		adminURL:   adminURL,
		server:     server,
		timeout:    timeout,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *CaddyClient) routesPath() string {
	return "/config/apps/http/servers/" + url.PathEscape(c.server) + "/routes"
}

func (c *CaddyClient) Routes(ctx context.Context) ([]Route, error) {
	body, err := c.do(ctx, http.MethodGet, c.routesPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}

	var raw []json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("list routes: decode: %w", err)
		}
	}

	routes := make([]Route, 0, len(raw))
	for _, item := range raw {
		r, parseErr := parseCaddyRoute(item)
		if errors.Is(parseErr, errForeignRoute) {
			if _, ok := SiteFromID(r.ID); ok {
				routes = append(routes, r)
			}
			continue
		}
		if parseErr != nil {
			return nil, fmt.Errorf("list routes: %w", parseErr)
		}
		routes = append(routes, r)
	}

	return routes, nil
}

func (c *CaddyClient) Replace(ctx context.Context, routes []Route) error {
	items := make([]json.RawMessage, 0, len(routes))
	for _, r := range routes {
		b, err := r.MarshalCaddy()
		if err != nil {
			return fmt.Errorf("replace routes: %w", err)
		}
		items = append(items, b)
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("replace routes: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPatch, c.routesPath(), payload); err != nil {
		return fmt.Errorf("replace routes: %w", err)
	}

	return nil
}

func (c *CaddyClient) Add(ctx context.Context, route Route) error {
	payload, err := route.MarshalCaddy()
	if err != nil {
		return fmt.Errorf("add route %s: %w", route.ID, err)
	}

	if _, err := c.do(ctx, http.MethodPost, c.routesPath(), payload); err != nil {
		return fmt.Errorf("add route %s: %w", route.ID, err)
	}

	return nil
}

func (c *CaddyClient) Remove(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/id/"+url.PathEscape(id), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("remove route %s: %w", id, ErrRouteNotFound)
		}
		return fmt.Errorf("remove route %s: %w", id, err)
	}

	return nil
}

func (c *CaddyClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adminURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w: %w", method, path, ErrUnreachable, err)
	}

	if resp.StatusCode >= 300 {
		return nil, parseAdminError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func parseAdminError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
