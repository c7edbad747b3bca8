package registry

import (
	"sync"
	"time"
)

// Registry is the process-lifetime catalogue of known modules and the
// dispatch table of activation factories. Entries are created once at
// construction and never destroyed; only the loader mutates the runtime
// flags.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*Metadata
	order     []string
	factories map[string]Factory
}

// NewRegistry creates a registry populated with the given descriptors.
// Duplicate names keep the first descriptor.
func NewRegistry(metas []Metadata) *Registry {
	r := &Registry{
		entries:   make(map[string]*Metadata, len(metas)),
		factories: make(map[string]Factory),
	}
	for _, meta := range metas {
		if _, exists := r.entries[meta.Name]; exists {
			continue
		}
		m := meta
		m.IsLoaded = false
		m.LoadedAt = time.Time{}
		r.entries[meta.Name] = &m
		r.order = append(r.order, meta.Name)
	}
	return r
}

// RegisterFactory binds an activation factory to an assembly identifier.
// Later registrations for the same identifier replace earlier ones.
func (r *Registry) RegisterFactory(assembly string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[assembly] = factory
}

// Factory returns the activation factory for an assembly identifier.
func (r *Registry) Factory(assembly string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[assembly]
	return f, ok
}

// Lookup returns a snapshot of the named module's metadata.
func (r *Registry) Lookup(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[name]
	if !ok {
		return Metadata{}, false
	}
	return *meta, true
}

// All returns metadata snapshots for every entry in registration order.
func (r *Registry) All() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// Names returns every module name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) markLoaded(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.entries[name]; ok {
		meta.IsLoaded = true
		meta.LoadedAt = at
	}
}

func (r *Registry) markUnloaded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.entries[name]; ok {
		meta.IsLoaded = false
		meta.LoadedAt = time.Time{}
	}
}
