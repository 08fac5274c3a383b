// Package world holds the in-memory entity table shared between the game
// loop and the sync layer.
package world

import (
	"sync"

	"github.com/gridfall/netplay/internal/statesync"
)

// Store is a mutex-guarded entity table. All returned entities are copies;
// mutate through Spawn and Apply.
type Store struct {
	mu       sync.RWMutex
	entities map[string]statesync.Entity
}

var _ statesync.EntityStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entities: make(map[string]statesync.Entity)}
}

// Entities returns a snapshot of every entity.
func (s *Store) Entities() []statesync.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]statesync.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, clone(e))
	}
	return out
}

// Get returns a copy of one entity.
func (s *Store) Get(id string) (statesync.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return statesync.Entity{}, false
	}
	return clone(e), true
}

// Spawn inserts an entity, replacing any previous one with the same id.
func (s *Store) Spawn(e statesync.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = clone(e)
}

// Apply merges motion state into an existing entity; identity fields keep
// their spawn values. No-op when the entity does not exist.
func (s *Store) Apply(e statesync.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entities[e.ID]
	if !ok {
		return
	}
	cur.Position = e.Position
	cur.Rotation = e.Rotation
	cur.Velocity = append([]float64(nil), e.Velocity...)
	cur.Frame = e.Frame
	s.entities[e.ID] = cur
}

// Remove deletes one entity.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

// RemoveOwned deletes every entity owned by the player and returns the
// removed ids. An empty owner never matches: the host's own world entities
// cannot be swept this way.
func (s *Store) RemoveOwned(ownerID string) []string {
	if ownerID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, e := range s.entities {
		if e.OwnerID == ownerID {
			delete(s.entities, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Count returns the number of entities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func clone(e statesync.Entity) statesync.Entity {
	e.Velocity = append([]float64(nil), e.Velocity...)
	return e
}
