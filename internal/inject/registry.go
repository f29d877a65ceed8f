package inject

import (
	"sort"
	"sync"

	"github.com/dgnsrekt/tabpanel/internal/types"
)

// Registry records which tabs are believed to host a panel. Entries are an
// estimate only and must be checked against a probe before being trusted.
type Registry struct {
	entries map[types.TabID]uint64
	nextGen uint64
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[types.TabID]uint64)}
}

// Mark records the tab as injected and returns the generation of the new
// belief. Marking an already marked tab keeps it marked under a fresh
// generation.
func (r *Registry) Mark(id types.TabID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGen++
	r.entries[id] = r.nextGen
	return r.nextGen
}

// Unmark forgets the tab. Unmarking an absent tab is a no-op.
func (r *Registry) Unmark(id types.TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// UnmarkIf forgets the tab only while it still carries generation gen.
func (r *Registry) UnmarkIf(id types.TabID, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur != gen {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) IsMarked(id types.TabID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Generation returns the generation of the current belief for the tab.
func (r *Registry) Generation(id types.TabID) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.entries[id]
	return gen, ok
}

// Snapshot returns the marked tabs in sorted order.
func (r *Registry) Snapshot() []types.TabID {
	r.mu.RLock()
	ids := make([]types.TabID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

