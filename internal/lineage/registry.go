package lineage

import (
	"sort"
	"sync"
)

// Registry owns every FlowUnit, keyed by id.
//
// GetOrCreate always returns the same instance for an id for the lifetime
// of the registry (or until the unit's job is retired). Concurrent callers
// racing on an unseen id observe a single instance: the first writer wins.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*FlowUnit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*FlowUnit)}
}

// GetOrCreate returns the unit for id, creating it on first reference.
func (r *Registry) GetOrCreate(id string) *FlowUnit {
	r.mu.RLock()
	u, ok := r.units[id]
	r.mu.RUnlock()
	if ok {
		return u
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.units[id]; ok {
		return u
	}
	u = newFlowUnit(id)
	r.units[id] = u
	return u
}

// Get returns the unit for id without creating it.
func (r *Registry) Get(id string) (*FlowUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	return u, ok
}

// Len returns the number of cached units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// IDs returns the ids of every cached unit, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Retire evicts every unit belonging to rootID, including the root.
// Nothing is removed unless the root's job and every job related to it
// are complete. Related roots already retired count as complete.
// Returns the number of units removed.
func (r *Registry) Retire(rootID string) int {
	root, ok := r.Get(rootID)
	if !ok || !root.IsComplete() {
		return 0
	}
	for _, rel := range root.RelatedRootIDs() {
		if u, ok := r.Get(rel); ok && !u.IsComplete() {
			return 0
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, u := range r.units {
		if u.RootID() == rootID {
			delete(r.units, id)
			removed++
		}
	}
	return removed
}

// RetireCompleted evicts the units of every completed job.
// Returns the number of units removed.
func (r *Registry) RetireCompleted() int {
	r.mu.RLock()
	var roots []string
	for id, u := range r.units {
		if u.IsComplete() {
			roots = append(roots, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range roots {
		removed += r.Retire(id)
	}
	return removed
}
