package market

import (
	"fmt"
	"slices"
	"sync"
)

// Registry is the catalog of tradeable locations and item types.
// Orders and quotes for anything outside it are rejected.
type Registry struct {
	mu        sync.RWMutex
	locations map[LocationID]struct{}
	items     map[ItemID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		locations: make(map[LocationID]struct{}),
		items:     make(map[ItemID]struct{}),
	}
}

// RegisterLocation adds a station/structure with a market.
// Returns error if it is already registered
func (r *Registry) RegisterLocation(id LocationID) error {
	if id == "" {
		return fmt.Errorf("%w: empty location id", ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.locations[id]; exists {
		return fmt.Errorf("location %s already registered", id)
	}
	r.locations[id] = struct{}{}
	return nil
}

// RegisterItem adds a tradeable item type.
// Returns error if it is already registered
func (r *Registry) RegisterItem(id ItemID) error {
	if id == "" {
		return fmt.Errorf("%w: empty item id", ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[id]; exists {
		return fmt.Errorf("item %s already registered", id)
	}
	r.items[id] = struct{}{}
	return nil
}

// Check returns ErrValidation unless both the location and the item are known.
func (r *Registry) Check(loc LocationID, item ItemID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.locations[loc]; !ok {
		return fmt.Errorf("%w: unknown location %q", ErrValidation, loc)
	}
	if _, ok := r.items[item]; !ok {
		return fmt.Errorf("%w: unknown item %q", ErrValidation, item)
	}
	return nil
}

// HasItem reports whether item is registered.
func (r *Registry) HasItem(item ItemID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[item]
	return ok
}

// Locations returns registered locations in sorted order
func (r *Registry) Locations() []LocationID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LocationID, 0, len(r.locations))
	for id := range r.locations {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Items returns registered items in sorted order
func (r *Registry) Items() []ItemID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ItemID, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
