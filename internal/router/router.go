package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/drops/internal/logging"
)

// Route records where a pair's traffic currently points.
type Route struct {
	Pair      string
	Target    string
	UpdatedAt time.Time
}

// TrafficRouter redirects user traffic between the primary and recovery
// environments. Implementations must make Update idempotent: repeating the
// same target is a no-op at the provider.
type TrafficRouter interface {
	// Update points the pair's traffic at target.
	Update(ctx context.Context, pair, target string) error

	// Current returns where traffic points now, if known.
	Current(ctx context.Context, pair string) (Route, error)

	// Verify checks that an update can be performed without mutating
	// anything. Used by drill runs.
	Verify(ctx context.Context, pair, target string) error
}

// StaticRouter keeps routes in memory. It backs pairs whose cutover is
// handled outside DNS (load balancer reconfig done by another system) and
// every test.
type StaticRouter struct {
	logger *logging.Logger

	mu      sync.RWMutex
	routes  map[string]Route
	updates int
}

// NewStaticRouter creates an in-memory router.
func NewStaticRouter(logger *logging.Logger) *StaticRouter {
	return &StaticRouter{
		logger: logger,
		routes: make(map[string]Route),
	}
}

// Update points the pair at target.
func (r *StaticRouter) Update(_ context.Context, pair, target string) error {
	if target == "" {
		return fmt.Errorf("empty routing target for pair %s", pair)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[pair] = Route{Pair: pair, Target: target, UpdatedAt: time.Now()}
	r.updates++
	if r.logger != nil {
		r.logger.Info("routed pair %s to %s", pair, target)
	}
	return nil
}

// Current returns the stored route for a pair.
func (r *StaticRouter) Current(_ context.Context, pair string) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[pair]
	if !ok {
		return Route{}, fmt.Errorf("no route recorded for pair %s", pair)
	}
	return route, nil
}

// Verify checks the target without changing the route.
func (r *StaticRouter) Verify(_ context.Context, pair, target string) error {
	if target == "" {
		return fmt.Errorf("empty routing target for pair %s", pair)
	}
	return nil
}

// UpdateCount returns how many updates have been applied.
func (r *StaticRouter) UpdateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updates
}
