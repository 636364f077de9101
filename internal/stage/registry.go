package stage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"parley/internal/services"
)

type registration struct {
	handler  Handler
	defaults Params
}

// Registry maps stage kinds to handlers and their default parameters.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]registration)}
}

// Register binds kind to handler. defaults are merged under each step's own
// parameters before the step is fingerprinted, so a config change that
// alters a default invalidates cached results.
func (r *Registry) Register(kind string, handler Handler, defaults Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = registration{handler: handler, defaults: defaults}
}

// Handler returns the handler for kind.
func (r *Registry) Handler(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.kinds[kind]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "stage", "registry", fmt.Sprintf("unknown stage kind %q", kind), nil)
	}
	return reg.handler, nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

// Resolve merges the kind defaults under params.
func (r *Registry) Resolve(kind string, params Params) Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return params.Merge(r.kinds[kind].defaults)
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// HealthChecks runs every handler's health check in kind order.
func (r *Registry) HealthChecks(ctx context.Context) []Health {
	kinds := r.Kinds()
	out := make([]Health, 0, len(kinds))
	for _, kind := range kinds {
		handler, err := r.Handler(kind)
		if err != nil {
			out = append(out, Unhealthy(kind, err.Error()))
			continue
		}
		out = append(out, handler.HealthCheck(ctx))
	}
	return out
}
