package asr

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh backend for one recording session.
type Factory func() (Backend, error)

// Registry maps selections to backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Selection]Factory
	primary   Selection
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Selection]Factory),
	}
}

// Register adds a factory. The first registered selection becomes the
// primary by default.
func (r *Registry) Register(sel Selection, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sel] = f
	if r.primary == "" {
		r.primary = sel
	}
}

// SetPrimary sets the selection used when none is requested.
func (r *Registry) SetPrimary(sel Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primary = sel
}

// Primary returns the default selection.
func (r *Registry) Primary() Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// Has reports whether sel has a factory.
func (r *Registry) Has(sel Selection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[sel]
	return ok
}

// Selections returns the registered selections, sorted.
func (r *Registry) Selections() []Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Selection, 0, len(r.factories))
	for sel := range r.factories {
		out = append(out, sel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds a backend for sel, or for the primary when sel is empty.
func (r *Registry) New(sel Selection) (Backend, error) {
	r.mu.RLock()
	if sel == "" {
		sel = r.primary
	}
	f, ok := r.factories[sel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, sel)
	}
	b, err := f()
	if err != nil {
		return nil, fmt.Errorf("asr: build %s backend: %w", sel, err)
	}
	return b, nil
}
