package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dmarchuk/shuttersync/internal/common"
)

// Registry resolves backend ids to Provider implementations. Registration
// happens during wiring; lookups happen on every task execution.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its ProviderID, replacing any previous
// registration with the same id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ProviderID()] = p
}

// Resolve returns the provider registered under id, or
// common.ErrUnknownBackend.
func (r *Registry) Resolve(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", id, common.ErrUnknownBackend)
	}
	return p, nil
}

// IDs returns the registered backend ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
