package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sagarc03/sitehost"
)

// IDPrefix marks routes owned by sitehost. Routes without it are never
// touched by the incremental strategy.
const IDPrefix = "sitehost-"

// RouteID returns the stable route id for a site.
func RouteID(site string) string {
	return IDPrefix + site
}

// SiteFromID is the inverse of RouteID.
func SiteFromID(id string) (string, bool) {
	if !strings.HasPrefix(id, IDPrefix) || len(id) == len(IDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(id, IDPrefix), true
}

// HostMatch selects requests by Host header.
type HostMatch struct {
	Hosts []string `json:"hosts" yaml:"hosts"`
}

// Account is one basic-auth user. PasswordHash is a bcrypt hash.
type Account struct {
	Username     string `json:"username" yaml:"username"`
	PasswordHash string `json:"-" yaml:"-"`
}

// BasicAuthHandler rejects requests lacking valid credentials.
type BasicAuthHandler struct {
	Accounts []Account `json:"accounts" yaml:"accounts"`
}

// FileServerHandler serves files below Root.
type FileServerHandler struct {
	Root string `json:"root" yaml:"root"`
}

// Route is the proxy configuration for one site. When Auth is set it always
// runs before Files.
type Route struct {
	ID    string            `json:"id" yaml:"id"`
	Match HostMatch         `json:"match" yaml:"match"`
	Auth  *BasicAuthHandler `json:"auth,omitempty" yaml:"auth,omitempty"`
	Files FileServerHandler `json:"files" yaml:"files"`
}

// BuildRoute derives the route for site under domain.
func BuildRoute(site sitehost.Site, domain string) Route {
	r := Route{
		ID:    RouteID(site.Name),
		Match: HostMatch{Hosts: []string{site.Name + "." + strings.TrimPrefix(domain, ".")}},
		Files: FileServerHandler{Root: site.Root},
	}

	if site.Auth != nil {
		r.Auth = &BasicAuthHandler{Accounts: []Account{{
			Username:     site.Auth.Username,
			PasswordHash: site.Auth.PasswordHash,
		}}}
	}

	return r
}

// Caddy JSON shapes. Only the fields sitehost writes are modelled.

type caddyRoute struct {
	ID       string            `json:"@id,omitempty"`
	Match    []caddyMatch      `json:"match,omitempty"`
	Handle   []json.RawMessage `json:"handle"`
	Terminal bool              `json:"terminal,omitempty"`
}

type caddyMatch struct {
	Host []string `json:"host,omitempty"`
}

type caddyHandler struct {
	Handler string `json:"handler"`
}

type caddyAuthHandler struct {
	Handler   string         `json:"handler"`
	Providers caddyProviders `json:"providers"`
}

type caddyProviders struct {
	HTTPBasic caddyHTTPBasic `json:"http_basic"`
}

type caddyHTTPBasic struct {
	Accounts []caddyAccount `json:"accounts"`
	Hash     caddyHash      `json:"hash"`
}

type caddyHash struct {
	Algorithm string `json:"algorithm"`
}

type caddyAccount struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type caddyFileServer struct {
	Handler string `json:"handler"`
	Root    string `json:"root"`
}

// MarshalCaddy renders the route as a Caddy HTTP route object.
func (r Route) MarshalCaddy() ([]byte, error) {
	cr := caddyRoute{
		ID:       r.ID,
		Match:    []caddyMatch{{Host: r.Match.Hosts}},
		Terminal: true,
	}

	if r.Auth != nil {
		accounts := make([]caddyAccount, len(r.Auth.Accounts))
		for i, a := range r.Auth.Accounts {
			accounts[i] = caddyAccount{Username: a.Username, Password: a.PasswordHash}
		}
		h, err := json.Marshal(caddyAuthHandler{
			Handler: "authentication",
			Providers: caddyProviders{HTTPBasic: caddyHTTPBasic{
				Accounts: accounts,
				Hash:     caddyHash{Algorithm: "bcrypt"},
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal auth handler: %w", err)
		}
		cr.Handle = append(cr.Handle, h)
	}

	h, err := json.Marshal(caddyFileServer{Handler: "file_server", Root: r.Files.Root})
	if err != nil {
		return nil, fmt.Errorf("marshal file server: %w", err)
	}
	cr.Handle = append(cr.Handle, h)

	return json.Marshal(cr)
}

var errForeignRoute = errors.New("route not managed by sitehost")

// parseCaddyRoute decodes a Caddy route written by MarshalCaddy. Routes
// without a sitehost id, or with a handler chain sitehost does not produce,
// are reported with errForeignRoute and their id (if any).
func parseCaddyRoute(data []byte) (Route, error) {
	var cr caddyRoute
	if err := json.Unmarshal(data, &cr); err != nil {
		return Route{}, fmt.Errorf("parse caddy route: %w", err)
	}

	if _, ok := SiteFromID(cr.ID); !ok {
		return Route{ID: cr.ID}, errForeignRoute
	}

	r := Route{ID: cr.ID}
	for _, m := range cr.Match {
		r.Match.Hosts = append(r.Match.Hosts, m.Host...)
	}

	fileServerSeen := false
	for _, raw := range cr.Handle {
		var h caddyHandler
		if err := json.Unmarshal(raw, &h); err != nil {
			return Route{ID: cr.ID}, fmt.Errorf("parse caddy route %s: %w", cr.ID, err)
		}

		switch h.Handler {
		case "authentication":
			if fileServerSeen {
				return Route{ID: cr.ID}, errForeignRoute
			}
			var ah caddyAuthHandler
			if err := json.Unmarshal(raw, &ah); err != nil {
				return Route{ID: cr.ID}, fmt.Errorf("parse caddy route %s: %w", cr.ID, err)
			}
			auth := &BasicAuthHandler{}
			for _, a := range ah.Providers.HTTPBasic.Accounts {
				auth.Accounts = append(auth.Accounts, Account{Username: a.Username, PasswordHash: a.Password})
			}
			r.Auth = auth
		case "file_server":
			var fh caddyFileServer
			if err := json.Unmarshal(raw, &fh); err != nil {
				return Route{ID: cr.ID}, fmt.Errorf("parse caddy route %s: %w", cr.ID, err)
			}
			r.Files.Root = fh.Root
			fileServerSeen = true
		default:
			return Route{ID: cr.ID}, errForeignRoute
		}
	}

	if !fileServerSeen {
		return Route{ID: cr.ID}, errForeignRoute
	}

	return r, nil
}
