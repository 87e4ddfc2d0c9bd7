package rpc

import (
	"slices"
	"sync"
)

// Registry maps each board id to its one live channel. A newer channel for
// the same board replaces the older one; the older one is left open.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
	}
}

// Register installs ch for boardID and returns the channel it replaced, if any.
func (r *Registry) Register(boardID string, ch *Channel) (replaced *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced = r.channels[boardID]
	if replaced == ch {
		replaced = nil
	}
	r.channels[boardID] = ch
	return replaced
}

// Remove deletes boardID's entry only while it still points at ch, so a
// stale channel closing late cannot evict its replacement.
func (r *Registry) Remove(boardID string, ch *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.channels[boardID]; ok && cur == ch {
		delete(r.channels, boardID)
		return true
	}
	return false
}

// Get returns the live channel for boardID.
func (r *Registry) Get(boardID string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[boardID]
	return ch, ok
}

// Connected returns the ids of boards with a live channel in sorted order.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Each calls fn for every connected board in id order. fn must not call
// back into the registry's mutating methods.
func (r *Registry) Each(fn func(boardID string, ch *Channel)) {
	for _, id := range r.Connected() {
		if ch, ok := r.Get(id); ok {
			fn(id, ch)
		}
	}
}

// Len returns the number of connected boards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
