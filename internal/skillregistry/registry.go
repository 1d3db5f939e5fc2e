// Package skillregistry maps worker ids to capability sets and answers
// "which workers satisfy this capability subset" queries for the
// Dispatcher. It is the simplest actor in the tree: a single
// mutex-guarded map, no external collaborators, no timers.
package skillregistry

import (
	"sort"
	"sync"

	"github.com/taskswarm/orchestrator/internal/domain"
)

// Registry maps worker-id -> capability set.
type Registry struct {
	mu   sync.RWMutex
	caps map[string][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{caps: make(map[string][]string)}
}

// Register replaces or inserts the capability set for workerID.
func (r *Registry) Register(workerID string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(capabilities))
	copy(cp, capabilities)
	r.caps[workerID] = cp
}

// Unregister removes workerID. An unknown id is a no-op.
func (r *Registry) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, workerID)
}

// QueryCapable returns the ids of every worker whose capability set is
// a superset of required. Order is a stable snapshot order (sorted by
// id) so callers relying on "registry snapshot iteration order" (per
// the fallback-assignment rule) get a deterministic, documented order
// rather than Go's randomized map iteration.
func (r *Registry) QueryCapable(required []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id := range r.caps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var capable []string
	for _, id := range ids {
		if domain.CapabilitySuperset(required, r.caps[id]) {
			capable = append(capable, id)
		}
	}
	return capable
}

// Capabilities returns a copy of the capability set registered for id,
// and whether id is currently registered.
func (r *Registry) Capabilities(id string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.caps[id]
	if !ok {
		return nil, false
	}
	cp := make([]string, len(caps))
	copy(cp, caps)
	return cp, true
}
