// Package statesync keeps a shared world consistent across peers: the host
// owns the authoritative copy, every peer broadcasts the entities it owns,
// and joiners are brought up to date with a full snapshot.
package statesync

import "github.com/gridfall/netplay/internal/protocol"

// Entity is one synchronized world object. OwnerID is the network player id
// of the peer that simulates it; empty means it belongs to the host's world
// itself.
type Entity struct {
	ID       string
	Position [3]float64
	Rotation [4]float64
	Velocity []float64
	OwnerID  string
	Type     string // protocol.EntityTypePlayer or protocol.EntityTypeEntity
	ModelID  string
	Frame    int
}

// EntityStore is the world state the manager synchronizes. Implementations
// must be safe for concurrent use; the manager calls in from both the game
// loop and transport goroutines.
type EntityStore interface {
	// Entities returns a snapshot of every entity.
	Entities() []Entity
	// Get returns a copy of one entity.
	Get(id string) (Entity, bool)
	// Spawn inserts an entity, replacing any previous one with the same id.
	Spawn(e Entity)
	// Apply merges motion state (position, rotation, velocity, frame) into
	// an existing entity. Identity fields never change after spawn. No-op
	// when the entity does not exist.
	Apply(e Entity)
	// Remove deletes one entity.
	Remove(id string)
	// RemoveOwned deletes every entity owned by the player and returns the
	// removed ids.
	RemoveOwned(ownerID string) []string
}

// toPayload flattens an entity for the wire.
func toPayload(e Entity) protocol.EntityUpdatePayload {
	return protocol.EntityUpdatePayload{
		EntityID:        e.ID,
		Position:        e.Position,
		Rotation:        e.Rotation,
		Velocity:        append([]float64(nil), e.Velocity...),
		EntityType:      e.Type,
		NetworkPlayerID: e.OwnerID,
		ModelID:         e.ModelID,
		Frame:           e.Frame,
	}
}

// fromPayload builds an entity from a wire update. The owner is whatever the
// caller resolved, not what the payload claims.
func fromPayload(p protocol.EntityUpdatePayload, owner string) Entity {
	return Entity{
		ID:       p.EntityID,
		Position: p.Position,
		Rotation: p.Rotation,
		Velocity: append([]float64(nil), p.Velocity...),
		OwnerID:  owner,
		Type:     p.EntityType,
		ModelID:  p.ModelID,
		Frame:    p.Frame,
	}
}
