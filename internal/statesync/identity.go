package statesync

import (
	"strconv"
	"sync"
)

// HostNetworkID is the network player id the host's own player always takes.
// Minting for joining peers starts above it.
const HostNetworkID = "1"

type playerEntry struct {
	peerID    string
	networkID string
	name      string
}

// IdentityMap is the host's registry tying transport peer ids to the network
// player ids it mints. Only the host mints; clients learn their id from the
// state snapshot.
type IdentityMap struct {
	mu     sync.Mutex
	next   int
	byPeer map[string]*playerEntry
	byNet  map[string]*playerEntry
}

// NewIdentityMap creates a registry whose first minted id follows the
// host's own.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		next:   2,
		byPeer: make(map[string]*playerEntry),
		byNet:  make(map[string]*playerEntry),
	}
}

// Mint assigns the next network id to a peer. Minting again for a known peer
// returns the id it already holds, so a duplicated join cannot burn ids.
func (m *IdentityMap) Mint(peerID, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byPeer[peerID]; ok {
		return e.networkID
	}

	e := &playerEntry{
		peerID:    peerID,
		networkID: strconv.Itoa(m.next),
		name:      name,
	}
	m.next++
	m.byPeer[peerID] = e
	m.byNet[e.networkID] = e
	return e.networkID
}

// NetworkID resolves a transport peer to its network id.
func (m *IdentityMap) NetworkID(peerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byPeer[peerID]
	if !ok {
		return "", false
	}
	return e.networkID, true
}

// PeerID resolves a network id back to its transport peer.
func (m *IdentityMap) PeerID(networkID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byNet[networkID]
	if !ok {
		return "", false
	}
	return e.peerID, true
}

// Name returns the display name a network id joined with.
func (m *IdentityMap) Name(networkID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byNet[networkID]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Remove drops a peer's mapping and reports what it held.
func (m *IdentityMap) Remove(peerID string) (networkID, name string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.byPeer[peerID]
	if !found {
		return "", "", false
	}
	delete(m.byPeer, peerID)
	delete(m.byNet, e.networkID)
	return e.networkID, e.name, true
}

// Count returns the number of mapped peers.
func (m *IdentityMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPeer)
}
