package plugin

import (
	"fmt"
	"strings"
	"sync"

	"discflow/internal/services"
)

// Registry maps plugin identities to implementations.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
}

// NewRegistry builds a registry pre-populated with plugins.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a plugin. Identities must be unique and non-empty.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", services.ErrValidation)
	}
	id := strings.TrimSpace(p.ID())
	if id == "" {
		return fmt.Errorf("%w: plugin id is required", services.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plugins == nil {
		r.plugins = make(map[string]Plugin)
	}
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("%w: duplicate plugin id %q", services.ErrValidation, id)
	}
	r.plugins[id] = p
	r.order = append(r.order, id)
	return nil
}

// Lookup returns the plugin registered under id.
func (r *Registry) Lookup(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q", services.ErrNotFound, id)
	}
	return p, nil
}

// Resolve looks up every id in order.
func (r *Registry) Resolve(ids []string) ([]Plugin, error) {
	out := make([]Plugin, 0, len(ids))
	for _, id := range ids {
		p, err := r.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// List returns plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id])
	}
	return out
}
