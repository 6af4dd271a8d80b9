package proxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"go.uber.org/multierr"
)

const (
	StrategyDeclarative = "declarative"
	StrategyIncremental = "incremental"
)

// DesiredFunc returns the full route set the proxy should hold.
type DesiredFunc func(ctx context.Context) ([]Route, error)

// Strategy decides how route changes reach the proxy.
type Strategy interface {
	Name() string

	// Exclusive reports whether calls must not overlap with each other.
	Exclusive() bool

	// Apply makes the proxy hold exactly the desired routes.
	Apply(ctx context.Context, c Client, desired DesiredFunc) error

	// Put installs or refreshes one route.
	Put(ctx context.Context, c Client, desired DesiredFunc, route Route) error

	// Remove drops one route. A route that is already gone is not an error.
	Remove(ctx context.Context, c Client, desired DesiredFunc, id string) error
}

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyDeclarative, "":
		return Declarative{}, nil
	case StrategyIncremental:
		return Incremental{}, nil
	default:
		return nil, fmt.Errorf("parse strategy: unknown strategy %q", name)
	}
}

// Declarative rebuilds the whole route list on every change and replaces it
// in one call. The proxy ends up either fully updated or untouched.
type Declarative struct{}

func (Declarative) Name() string { return StrategyDeclarative }

func (Declarative) Exclusive() bool { return true }

func (Declarative) Apply(ctx context.Context, c Client, desired DesiredFunc) error {
	routes, err := desired(ctx)
	if err != nil {
		return err
	}
	return c.Replace(ctx, routes)
}

func (Declarative) Put(ctx context.Context, c Client, desired DesiredFunc, route Route) error {
	routes, err := desired(ctx)
	if err != nil {
		return err
	}

	if i := slices.IndexFunc(routes, func(r Route) bool { return r.ID == route.ID }); i >= 0 {
		routes[i] = route
	} else {
		routes = append(routes, route)
	}

	return c.Replace(ctx, routes)
}

func (Declarative) Remove(ctx context.Context, c Client, desired DesiredFunc, id string) error {
	routes, err := desired(ctx)
	if err != nil {
		return err
	}

	routes = slices.DeleteFunc(routes, func(r Route) bool { return r.ID == id })
	return c.Replace(ctx, routes)
}

// Incremental touches only the routes that change, addressing them by id.
type Incremental struct{}

func (Incremental) Name() string { return StrategyIncremental }

func (Incremental) Exclusive() bool { return false }

func (i Incremental) Apply(ctx context.Context, c Client, desired DesiredFunc) error {
	want, err := desired(ctx)
	if err != nil {
		return err
	}

	current, err := c.Routes(ctx)
	if err != nil {
		return err
	}

	have := make(map[string]Route, len(current))
	for _, r := range current {
		have[r.ID] = r
	}

	var errs error
	wanted := make(map[string]struct{}, len(want))
	for _, r := range want {
		wanted[r.ID] = struct{}{}
		if existing, ok := have[r.ID]; ok && reflect.DeepEqual(existing, r) {
			continue
		}
		if putErr := i.put(ctx, c, r); putErr != nil {
			errs = multierr.Append(errs, &RouteError{RouteID: r.ID, Op: "put", Err: putErr})
		}
	}

	for _, r := range current {
		if _, ok := wanted[r.ID]; ok {
			continue
		}
		if _, ours := SiteFromID(r.ID); !ours {
			continue
		}
		if rmErr := i.remove(ctx, c, r.ID); rmErr != nil {
			errs = multierr.Append(errs, &RouteError{RouteID: r.ID, Op: "remove", Err: rmErr})
		}
	}

	return errs
}

func (i Incremental) Put(ctx context.Context, c Client, _ DesiredFunc, route Route) error {
	return i.put(ctx, c, route)
}

func (i Incremental) Remove(ctx context.Context, c Client, _ DesiredFunc, id string) error {
	return i.remove(ctx, c, id)
}

func (i Incremental) put(ctx context.Context, c Client, route Route) error {
	if err := i.remove(ctx, c, route.ID); err != nil {
		return err
	}
	return c.Add(ctx, route)
}

func (Incremental) remove(ctx context.Context, c Client, id string) error {
	err := c.Remove(ctx, id)
	if errors.Is(err, ErrRouteNotFound) {
		return nil
	}
	return err
}
