package sitehost

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Site is a provisioned subdomain bucket.
type Site struct {
	ID         uuid.UUID  `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Root       string     `json:"root" yaml:"root"`
	Auth       *BasicAuth `json:"auth,omitempty" yaml:"auth,omitempty"`
	QuotaBytes int64      `json:"quota_bytes" yaml:"quota_bytes"`
	UsedBytes  int64      `json:"used_bytes" yaml:"used_bytes"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// BasicAuth is the stored credential protecting a site. PasswordHash is a
// bcrypt hash that the proxy verifies directly.
type BasicAuth struct {
	Username     string `json:"username" yaml:"username"`
	PasswordHash string `json:"-" yaml:"-"`
}

// Credentials is a plaintext basic-auth pair as submitted by a client.
type Credentials struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// CreateSite is a request to provision a site. A zero QuotaBytes selects
// the configured default.
type CreateSite struct {
	Name       string       `json:"name" validate:"required,max=63"`
	QuotaBytes int64        `json:"quota_bytes" validate:"gte=0"`
	Auth       *Credentials `json:"auth,omitempty"`
}

// NewSite describes a site to insert into the registry.
type NewSite struct {
	Name       string
	Root       string
	Auth       *BasicAuth
	QuotaBytes int64
}

// FileInfo describes a stored file relative to its site root.
type FileInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Usage is a snapshot of a site's quota record.
type Usage struct {
	UsedBytes  int64 `json:"used_bytes" yaml:"used_bytes"`
	QuotaBytes int64 `json:"quota_bytes" yaml:"quota_bytes"`
}

// SiteStats reports usage metrics for a single site.
type SiteStats struct {
	Name       string  `json:"name"`
	UsedBytes  int64   `json:"used_bytes"`
	QuotaBytes int64   `json:"quota_bytes"`
	Percentage float64 `json:"percentage"`
	FileCount  int     `json:"file_count"`
}

type ListQuery struct {
	Prefix string
	Limit  int
	Cursor string
}

type ListResult struct {
	Items      []Site `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// UploadResult is returned after a file has been persisted and accounted.
type UploadResult struct {
	File       FileInfo `json:"file"`
	Replaced   bool     `json:"replaced"`
	UsedBytes  int64    `json:"used_bytes"`
	QuotaBytes int64    `json:"quota_bytes"`
}

var validSiteNameRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// IsValidSiteName checks if a site name is usable as a DNS label
// (lowercase alphanumeric and hyphens, max 63 chars, no leading/trailing hyphen).
func IsValidSiteName(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return false
	}
	return validSiteNameRegex.MatchString(name)
}

// Tables holds configurable table names for registry storage.
type Tables struct {
	Sites string `mapstructure:"sites"`
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Validate checks that all required table names are set and valid.
func (t Tables) Validate() error {
	if t.Sites == "" {
		return errors.New("validate tables: sites table name cannot be empty")
	}

	if !IsValidTableName(t.Sites) {
		return fmt.Errorf("validate tables: invalid sites table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", t.Sites)
	}

	return nil
}
