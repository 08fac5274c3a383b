package statesync

import (
	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/util"
)

// handleMessage is the router's message callback: every decoded gameplay
// frame lands here, already relayed onward if we are the hub.
func (m *Manager) handleMessage(from string, msg *protocol.Message) {
	switch p := msg.Payload.(type) {
	case protocol.JoinPayload:
		m.handleJoin(from, p)
	case protocol.LeavePayload:
		m.handleLeave(from, p)
	case protocol.ChatPayload:
		m.fireChat(p.Name, p.Text, msg.Timestamp)
	case protocol.EntityUpdatePayload:
		m.applyUpdate(from, p)
	case protocol.EntityBatchPayload:
		for _, up := range p.Entities {
			m.applyUpdate(from, up)
		}
	case protocol.FullStatePayload:
		m.applySnapshot(from, p)
	case protocol.StateRequestPayload:
		m.handleStateRequest(from)
	case protocol.StateResponsePayload:
		m.applySnapshot(from, protocol.FullStatePayload(p))
	default:
		m.fireMessage(from, msg)
	}
}

// handleJoin runs the host's side of the join handshake: mint a network id,
// answer with the full snapshot, announce the arrival. Clients only hear
// about relayed joins; the authoritative id reaches them through entity
// updates.
func (m *Manager) handleJoin(from string, p protocol.JoinPayload) {
	if !m.host {
		m.firePlayerJoin("", p.Name)
		return
	}

	netID := m.identity.Mint(from, p.Name)
	util.LogInfo("player %s joined as %s (peer %s)", p.Name, netID, util.ShortID(from))

	m.router.SendTo(from, protocol.New(m.snapshotFor(netID)))
	m.firePlayerJoin(netID, p.Name)
}

// handleLeave processes a graceful departure. The host resolves the leaver
// from the sending peer, never from the payload, so nobody can evict someone
// else. Clients trust the payload: on their single link it already passed
// through the host.
func (m *Manager) handleLeave(from string, p protocol.LeavePayload) {
	if m.host {
		netID, name, ok := m.identity.Remove(from)
		if !ok {
			util.LogDebug("leave from unmapped peer %s ignored", util.ShortID(from))
			return
		}
		removed := m.store.RemoveOwned(netID)
		util.LogInfo("player %s (%s) left, %d entities removed", name, netID, len(removed))
		m.firePlayerLeave(netID, name)
		return
	}

	if p.PlayerID == "" {
		return
	}
	m.store.RemoveOwned(p.PlayerID)
	m.firePlayerLeave(p.PlayerID, p.Name)
}

// handleStateRequest serves a fresh snapshot to a peer that suspects its
// world is stale. Only mapped peers are answered.
func (m *Manager) handleStateRequest(from string) {
	if !m.host {
		return
	}
	netID, ok := m.identity.NetworkID(from)
	if !ok {
		util.LogWarning("state request from unmapped peer %s dropped", util.ShortID(from))
		return
	}
	m.router.SendTo(from, protocol.New(protocol.StateResponsePayload(m.snapshotFor(netID))))
}

// snapshotFor packs the entire store for the wire, addressed to one player.
func (m *Manager) snapshotFor(netID string) protocol.FullStatePayload {
	entities := m.store.Entities()
	out := protocol.FullStatePayload{
		HostID:   m.peerID,
		PlayerID: netID,
		Entities: make([]protocol.EntityUpdatePayload, 0, len(entities)),
	}
	for _, e := range entities {
		out.Entities = append(out.Entities, toPayload(e))
	}
	return out
}

// applySnapshot reconciles the local world with the host's. Locally owned
// entities are untouched; everything else converges on the snapshot,
// including removal of remote entities the host no longer has. Applying the
// same snapshot twice is a no-op.
func (m *Manager) applySnapshot(from string, p protocol.FullStatePayload) {
	if m.host {
		util.LogWarning("snapshot from peer %s ignored, host state is authoritative", util.ShortID(from))
		return
	}

	m.mu.Lock()
	first := m.networkID == ""
	m.networkID = p.PlayerID
	m.hostID = p.HostID
	m.mu.Unlock()

	inSnapshot := make(map[string]struct{}, len(p.Entities))
	for _, up := range p.Entities {
		inSnapshot[up.EntityID] = struct{}{}

		// Our own entities never come from the wire; local simulation wins.
		if up.NetworkPlayerID != "" && up.NetworkPlayerID == p.PlayerID {
			continue
		}

		existing, ok := m.store.Get(up.EntityID)
		switch {
		case !ok:
			m.store.Spawn(fromPayload(up, up.NetworkPlayerID))
		case existing.OwnerID != up.NetworkPlayerID:
			// Ownership changed under us; replace rather than merge.
			m.store.Remove(up.EntityID)
			m.store.Spawn(fromPayload(up, up.NetworkPlayerID))
		default:
			m.store.Apply(fromPayload(up, up.NetworkPlayerID))
		}
	}

	// Drop remote entities the host no longer knows.
	myID := p.PlayerID
	for _, e := range m.store.Entities() {
		if e.OwnerID == myID {
			continue
		}
		if _, ok := inSnapshot[e.ID]; !ok {
			m.store.Remove(e.ID)
		}
	}

	util.LogInfo("snapshot applied: %d entities, playing as %s", len(p.Entities), p.PlayerID)
	if first {
		m.firePlayerJoin(p.PlayerID, m.playerName)
	}
}

// applyUpdate folds one entity update into the store under the authority
// rules: own echoes are ignored, the host re-resolves the owner from the
// sending peer, and unknown entities with a resolvable owner are spawned in
// place.
func (m *Manager) applyUpdate(from string, p protocol.EntityUpdatePayload) {
	m.mu.Lock()
	myID := m.networkID
	m.mu.Unlock()

	// An update naming our own player is a reflection of something we sent;
	// local simulation wins.
	if p.NetworkPlayerID != "" && p.NetworkPlayerID == myID {
		return
	}

	owner := p.NetworkPlayerID
	if m.host {
		senderID, ok := m.identity.NetworkID(from)
		if !ok {
			util.LogWarning("update for %s from unmapped peer %s dropped", p.EntityID, util.ShortID(from))
			return
		}
		if owner != "" && owner != senderID {
			util.LogWarning("peer %s claimed entity %s for player %s, overriding with %s",
				util.ShortID(from), p.EntityID, owner, senderID)
		}
		owner = senderID
	}

	existing, ok := m.store.Get(p.EntityID)
	if !ok {
		// Self-heal: the create beat us here or was lost; the update carries
		// enough to spawn.
		m.store.Spawn(fromPayload(p, owner))
		util.LogDebug("spawned unknown entity %s for player %s", p.EntityID, owner)
		return
	}

	if m.host && existing.OwnerID != "" && existing.OwnerID != owner {
		util.LogWarning("peer %s tried to move entity %s owned by %s, dropped",
			util.ShortID(from), p.EntityID, existing.OwnerID)
		return
	}

	m.store.Apply(fromPayload(p, existing.OwnerID))
}
