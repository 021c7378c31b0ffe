package router

import (
	"context"
	"fmt"
	"sync"
)

// Dispatcher routes router calls to the pair's configured provider. Pairs
// without a registered router fall through to the fallback, so a mixed
// deployment can put some pairs on Route 53 and leave the rest static.
type Dispatcher struct {
	mu       sync.RWMutex
	routers  map[string]TrafficRouter
	fallback TrafficRouter
}

// NewDispatcher creates a dispatcher with the given fallback router.
func NewDispatcher(fallback TrafficRouter) *Dispatcher {
	return &Dispatcher{
		routers:  make(map[string]TrafficRouter),
		fallback: fallback,
	}
}

// Register binds a pair to a specific router.
func (d *Dispatcher) Register(pair string, r TrafficRouter) {
	d.mu.Lock()
	d.routers[pair] = r
	d.mu.Unlock()
}

func (d *Dispatcher) routerFor(pair string) (TrafficRouter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.routers[pair]; ok {
		return r, nil
	}
	if d.fallback == nil {
		return nil, fmt.Errorf("no router registered for pair %s", pair)
	}
	return d.fallback, nil
}

// Update points the pair's traffic at target.
func (d *Dispatcher) Update(ctx context.Context, pair, target string) error {
	r, err := d.routerFor(pair)
	if err != nil {
		return err
	}
	return r.Update(ctx, pair, target)
}

// Current returns where traffic points now.
func (d *Dispatcher) Current(ctx context.Context, pair string) (Route, error) {
	r, err := d.routerFor(pair)
	if err != nil {
		return Route{}, err
	}
	return r.Current(ctx, pair)
}

// Verify checks an update without applying it.
func (d *Dispatcher) Verify(ctx context.Context, pair, target string) error {
	r, err := d.routerFor(pair)
	if err != nil {
		return err
	}
	return r.Verify(ctx, pair, target)
}
