package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/internal/keymutex"
)

// Registry lists sites. Satisfied by sitehost.SiteRepo.
type Registry interface {
	List(ctx context.Context, q sitehost.ListQuery) (sitehost.ListResult, error)
}

// Observer is notified after every synchronizer operation.
type Observer interface {
	ObserveSync(op string, elapsed time.Duration, err error)
}

const listPageSize = 500

// Synchronizer keeps the proxy's routes equal to the registry's sites.
//
// Operations on one site are serialized. With an exclusive strategy every
// operation is serialized, and a full Sync always is.
type Synchronizer struct {
	client   Client
	registry Registry
	strategy Strategy
	domain   string
	observer Observer

	all   sync.RWMutex
	sites keymutex.Map

	tmu        sync.Mutex
	tombstones map[string]struct{}
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithObserver reports operation outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Synchronizer) {
		s.observer = o
	}
}

func NewSynchronizer(client Client, registry Registry, strategy Strategy, domain string, opts ...Option) (*Synchronizer, error) {
	if client == nil {
		return nil, errors.New("new synchronizer: client is required")
	}
	if registry == nil {
		return nil, errors.New("new synchronizer: registry is required")
	}
	if strategy == nil {
		return nil, errors.New("new synchronizer: strategy is required")
	}
	if domain == "" {
		return nil, errors.New("new synchronizer: domain is required")
	}

	s := &Synchronizer{
		client:     client,
		registry:   registry,
		strategy:   strategy,
		domain:     domain,
		tombstones: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Synchronizer) Strategy() Strategy { return s.strategy }

func (s *Synchronizer) lock(site string) func() {
	if s.strategy.Exclusive() {
		s.all.Lock()
		return s.all.Unlock
	}

	s.all.RLock()
	unlock := s.sites.Lock(site)
	return func() {
		unlock()
		s.all.RUnlock()
	}
}

func (s *Synchronizer) observe(op string, start time.Time, err error) {
	if err != nil {
		slog.Error("proxy sync failed", "op", op, "strategy", s.strategy.Name(), "err", err)
	}
	if s.observer != nil {
		s.observer.ObserveSync(op, time.Since(start), err)
	}
}

// Put installs or refreshes the route for site.
func (s *Synchronizer) Put(ctx context.Context, site sitehost.Site) (err error) {
	start := time.Now()
	defer func() { s.observe("put", start, err) }()

	unlock := s.lock(site.Name)
	defer unlock()

	s.setTombstone(site.Name, false)

	route := BuildRoute(site, s.domain)
	if putErr := s.strategy.Put(ctx, s.client, s.Desired, route); putErr != nil {
		return newSyncError("put", &RouteError{RouteID: route.ID, Op: "put", Err: putErr})
	}

	return nil
}

// Remove deletes the route for the named site. A missing route is success.
func (s *Synchronizer) Remove(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe("remove", start, err) }()

	unlock := s.lock(name)
	defer unlock()

	s.setTombstone(name, true)

	id := RouteID(name)
	if rmErr := s.strategy.Remove(ctx, s.client, s.Desired, id); rmErr != nil {
		s.setTombstone(name, false)
		return newSyncError("remove", &RouteError{RouteID: id, Op: "remove", Err: rmErr})
	}

	return nil
}

// Sync reconciles the proxy with every site in the registry.
func (s *Synchronizer) Sync(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe("sync", start, err) }()

	s.all.Lock()
	defer s.all.Unlock()

	return newSyncError("sync", s.strategy.Apply(ctx, s.client, s.Desired))
}

// Routes returns what the proxy currently holds.
func (s *Synchronizer) Routes(ctx context.Context) ([]Route, error) {
	routes, err := s.client.Routes(ctx)
	if err != nil {
		return nil, newSyncError("routes", err)
	}
	return routes, nil
}

// Desired returns the route set derived from the registry, excluding sites
// whose route removal is in progress. Tombstones of sites the registry no
// longer holds are dropped.
func (s *Synchronizer) Desired(ctx context.Context) ([]Route, error) {
	pending := s.tombstoned()
	seen := make(map[string]struct{}, len(pending))

	var routes []Route
	cursor := ""

	for {
		result, err := s.registry.List(ctx, sitehost.ListQuery{Limit: listPageSize, Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("desired routes: %w", err)
		}

		for _, site := range result.Items {
			if s.isTombstoned(site.Name) {
				seen[site.Name] = struct{}{}
				continue
			}
			routes = append(routes, BuildRoute(site, s.domain))
		}

		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	for _, name := range pending {
		if _, ok := seen[name]; !ok {
			s.clearTombstone(name)
		}
	}

	if routes == nil {
		routes = []Route{}
	}
	return routes, nil
}

func (s *Synchronizer) setTombstone(name string, on bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if on {
		s.tombstones[name] = struct{}{}
	} else {
		delete(s.tombstones, name)
	}
}

// tombstoned returns the names currently tombstoned. Only these may be
// cleared by a listing, since a tombstone set later may belong to a site the
// listing has not caught up with.
func (s *Synchronizer) tombstoned() []string {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	names := make([]string, 0, len(s.tombstones))
	for name := range s.tombstones {
		names = append(names, name)
	}
	return names
}

func (s *Synchronizer) clearTombstone(name string) {
	s.setTombstone(name, false)
}

// Forget clears the tombstone left by Remove once the site's registry row
// has been deleted.
func (s *Synchronizer) Forget(name string) {
	s.clearTombstone(name)
}

// Tombstones returns the number of sites whose route removal has not yet
// been confirmed by the registry.
func (s *Synchronizer) Tombstones() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.tombstones)
}

func (s *Synchronizer) isTombstoned(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.tombstones[name]
	return ok
}
