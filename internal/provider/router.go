package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProvider is returned when a route resolves to no registered provider.
var ErrNoProvider = errors.New("no provider available")

// Router picks a provider per route (usually a worker role) and walks a
// fallback chain when the primary fails.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // route -> providerID
	fallbacks map[string][]string // route -> fallback chain
	chain     []string            // fallback chain for routes without their own
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind pins a route to a specific provider.
func (r *Router) Bind(route, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[route] = providerID
}

// SetFallbacks configures the fallback chain for a route. An empty route
// sets the chain used by every route without its own.
func (r *Router) SetFallbacks(route string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if route == "" {
		r.chain = providerIDs
		return
	}
	r.fallbacks[route] = providerIDs
}

// Route sends a chat request through the provider bound to route.
func (r *Router) Route(ctx context.Context, route string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.resolve(route)
	chain, ok := r.fallbacks[route]
	if !ok {
		chain = r.chain
	}
	fallbacks := make([]Provider, 0, len(chain))
	for _, id := range chain {
		if p, ok := r.providers[id]; ok && (primary == nil || p.ID() != primary.ID()) {
			fallbacks = append(fallbacks, p)
		}
	}
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("route %q: %w", route, ErrNoProvider)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("route", route), zap.String("provider", primary.ID()), zap.Error(err))

	for _, fb := range fallbacks {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed for route %q: %w", route, err)
}

func (r *Router) resolve(route string) Provider {
	if pid, ok := r.bindings[route]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	return r.providers[r.defaults]
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
