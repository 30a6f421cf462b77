package providers

import (
	"sort"
	"sync"
)

// Registry holds the transports keyed by provider name. It is safe for
// concurrent use; lookups never perform I/O.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry returns a registry pre-populated with ts.
func NewRegistry(ts ...Transport) *Registry {
	r := &Registry{transports: make(map[string]Transport, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the transport under t.Name().
func (r *Registry) Register(t Transport) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.transports[t.Name()] = t
	r.mu.Unlock()
}

// Get returns the transport registered under name.
func (r *Registry) Get(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// IsConfigured reports whether name is registered and its transport has a
// well-formed credential or endpoint. Pure: no network calls.
func (r *Registry) IsConfigured(name string) bool {
	t, ok := r.Get(name)
	return ok && t.Configured()
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.transports))
	for n := range r.transports {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Configured returns the names of registered providers that pass
// IsConfigured, in sorted order.
func (r *Registry) Configured() []string {
	var out []string
	for _, n := range r.Names() {
		if r.IsConfigured(n) {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of registered transports.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}
