package proxy

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
)

// Fault, when installed on a MemoryClient, is consulted before every
// operation. op is one of "routes", "replace", "add" or "remove"; id is the
// route id for add and remove. A non-nil result fails the call.
type Fault func(op, id string) error

// MemoryClient is an in-process Client. It mirrors Caddy's behaviour for
// duplicate and unknown ids.
type MemoryClient struct {
	mu     sync.Mutex
	routes []Route
	fault  Fault
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// SetFault installs f; nil clears it.
func (m *MemoryClient) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *MemoryClient) check(op, id string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, id)
}

func (m *MemoryClient) Routes(ctx context.Context) ([]Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("routes", ""); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}

	return slices.Clone(m.routes), nil
}

func (m *MemoryClient) Replace(ctx context.Context, routes []Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("replace", ""); err != nil {
		return fmt.Errorf("replace routes: %w", err)
	}

	seen := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("replace routes: %w", &APIError{StatusCode: http.StatusBadRequest, Message: "duplicate id " + r.ID})
		}
		seen[r.ID] = struct{}{}
	}

	m.routes = slices.Clone(routes)
	return nil
}

func (m *MemoryClient) Add(ctx context.Context, route Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("add", route.ID); err != nil {
		return fmt.Errorf("add route %s: %w", route.ID, err)
	}

	if m.index(route.ID) >= 0 {
		return fmt.Errorf("add route %s: %w", route.ID, &APIError{StatusCode: http.StatusBadRequest, Message: "duplicate id " + route.ID})
	}

	m.routes = append(m.routes, route)
	return nil
}

func (m *MemoryClient) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("remove", id); err != nil {
		return fmt.Errorf("remove route %s: %w", id, err)
	}

	i := m.index(id)
	if i < 0 {
		return fmt.Errorf("remove route %s: %w", id, ErrRouteNotFound)
	}

	m.routes = slices.Delete(m.routes, i, i+1)
	return nil
}

func (m *MemoryClient) index(id string) int {
	return slices.IndexFunc(m.routes, func(r Route) bool { return r.ID == id })
}
