package statesync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/router"
	"github.com/gridfall/netplay/internal/util"
)

// syncRate is how many times per second locally owned entities are swept for
// changes and broadcast.
const syncRate = 20

// Manager drives one peer's view of the shared world. It owns the router,
// decides what goes on the wire each sync tick, and applies what comes back
// under the host-authority rules.
//
// Application callbacks fire on transport goroutines; receivers serialize
// their own state.
type Manager struct {
	host       bool
	peerID     string // self-assigned transport id
	playerName string

	router   *router.Router
	store    EntityStore
	identity *IdentityMap // minted on the host only

	mu        sync.Mutex
	networkID string // own player id; hosts take it at Start, clients learn it
	hostID    string // host's transport id, learned from the snapshot
	accum     float64

	onPlayerJoin  func(playerID, name string)
	onPlayerLeave func(playerID, name string)
	onChat        func(name, text string, timestamp int64)
	onConnection  func(connected bool)
	onMessage     func(from string, msg *protocol.Message)
}

// NewManager creates a manager for one peer. host enables authority duties:
// id minting, snapshot serving, and relay.
func NewManager(host bool, playerName string, store EntityStore) *Manager {
	m := &Manager{
		host:       host,
		peerID:     uuid.NewString(),
		playerName: playerName,
		router:     router.New(host),
		store:      store,
		identity:   NewIdentityMap(),
	}

	m.router.OnMessage(m.handleMessage)
	m.router.OnPeerDown(func(peerID, reason string) { m.handlePeerDown(peerID) })
	m.router.OnConnectionState(func(up bool) {
		if up && !m.host {
			// Announce ourselves as soon as the host link is usable.
			m.router.Send(protocol.New(protocol.JoinPayload{Name: m.playerName}))
		}
		m.fireConnection(up)
	})

	return m
}

// Start finalizes local identity. The host takes its fixed network id and
// announces its own player; clients wait for the snapshot. Register
// callbacks before calling Start.
func (m *Manager) Start() {
	if !m.host {
		return
	}
	m.mu.Lock()
	m.networkID = HostNetworkID
	m.hostID = m.peerID
	m.mu.Unlock()
	m.firePlayerJoin(HostNetworkID, m.playerName)
}

// AttachPeer registers a transport link under the given peer id. Call before
// the link's channel can open.
func (m *Manager) AttachPeer(peerID string, link router.Link) {
	m.router.Register(peerID, link)
}

// Update advances the sync clock: flushes due batches, drives the heartbeat,
// and broadcasts changed locally owned entities at the sync rate. Call once
// per frame with the frame delta in seconds.
func (m *Manager) Update(dt float64) {
	m.router.Update()

	const interval = 1.0 / syncRate
	m.mu.Lock()
	m.accum += dt
	due := m.accum >= interval
	if due {
		m.accum -= interval
		if m.accum > interval {
			// A long stall is not worth replaying tick by tick; the next
			// broadcast carries the latest state anyway.
			m.accum = interval
		}
	}
	m.mu.Unlock()

	if due {
		m.broadcastOwned()
	}
}

// broadcastOwned sends an update for every locally owned entity, moved or
// not. The channel drops frames by design, so the periodic re-emit is the
// repair mechanism: a receiver that missed a tick converges on the next one.
// The host also owns the bare world entities.
func (m *Manager) broadcastOwned() {
	m.mu.Lock()
	myID := m.networkID
	m.mu.Unlock()
	if myID == "" {
		return // not joined yet
	}

	for _, e := range m.store.Entities() {
		if e.OwnerID != myID && !(m.host && e.OwnerID == "") {
			continue
		}
		m.router.Send(protocol.New(toPayload(e)))
	}
}

// ---------------------------------------------------------------------------
// Outbound API
// ---------------------------------------------------------------------------

// SendChat broadcasts a chat line under the local player's name.
func (m *Manager) SendChat(text string) {
	m.router.Send(protocol.New(protocol.ChatPayload{Name: m.playerName, Text: text}))
}

// SendInput broadcasts a player input sample stamped with the local player
// id.
func (m *Manager) SendInput(p protocol.InputPayload) {
	p.PlayerID = m.PlayerID()
	m.router.Send(protocol.New(p))
}

// SendAction broadcasts a one-shot player action stamped with the local
// player id.
func (m *Manager) SendAction(name string, params json.RawMessage) {
	m.router.Send(protocol.New(protocol.ActionPayload{
		PlayerID: m.PlayerID(),
		Name:     name,
		Params:   params,
	}))
}

// RequestState asks the host for a fresh snapshot. Used when the local world
// is suspected stale, for example after a long frame stall.
func (m *Manager) RequestState() {
	if m.host {
		return
	}
	m.router.Send(protocol.New(protocol.StateRequestPayload{}))
}

// Leave announces a graceful departure. The message is critical so it jumps
// every queue; callers should still allow a frame or two before Close.
func (m *Manager) Leave() {
	m.router.Send(protocol.New(protocol.LeavePayload{
		PeerID:   m.peerID,
		PlayerID: m.PlayerID(),
		Name:     m.playerName,
	}))
}

// Close drops all routing state. Transport sessions are owned by the caller
// and closed separately.
func (m *Manager) Close() {
	m.router.Close()
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// PeerID returns the local transport id.
func (m *Manager) PeerID() string { return m.peerID }

// PlayerID returns the local network player id, empty until assigned.
func (m *Manager) PlayerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkID
}

// HostID returns the host's transport id, empty until the snapshot arrives.
func (m *Manager) HostID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostID
}

// Connected reports whether at least one peer channel is open.
func (m *Manager) Connected() bool { return m.router.Connected() }

// Latency returns the last measured round trip to a peer.
func (m *Manager) Latency(peerID string) (time.Duration, bool) {
	return m.router.Latency(peerID)
}

// Peers returns the ids of all attached peers.
func (m *Manager) Peers() []string { return m.router.Peers() }

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// OnPlayerJoin registers fn for player arrivals, the local player included.
// Clients see relayed arrivals with an empty player id; the entity updates
// that follow carry the authoritative owner.
func (m *Manager) OnPlayerJoin(fn func(playerID, name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPlayerJoin = fn
}

// OnPlayerLeave registers fn for player departures, graceful or not.
func (m *Manager) OnPlayerLeave(fn func(playerID, name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPlayerLeave = fn
}

// OnChatMessage registers fn for chat lines from other players. The
// timestamp is the sender's send time in unix milliseconds.
func (m *Manager) OnChatMessage(fn func(name, text string, timestamp int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChat = fn
}

// OnConnectionState registers fn for overall connectivity changes.
func (m *Manager) OnConnectionState(fn func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnection = fn
}

// OnMessage registers fn for gameplay messages the manager does not consume
// itself: inputs, actions, and anything a newer build might add.
func (m *Manager) OnMessage(fn func(from string, msg *protocol.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

func (m *Manager) firePlayerJoin(playerID, name string) {
	m.mu.Lock()
	fn := m.onPlayerJoin
	m.mu.Unlock()
	if fn != nil {
		fn(playerID, name)
	}
}

func (m *Manager) firePlayerLeave(playerID, name string) {
	m.mu.Lock()
	fn := m.onPlayerLeave
	m.mu.Unlock()
	if fn != nil {
		fn(playerID, name)
	}
}

func (m *Manager) fireChat(name, text string, timestamp int64) {
	m.mu.Lock()
	fn := m.onChat
	m.mu.Unlock()
	if fn != nil {
		fn(name, text, timestamp)
	}
}

func (m *Manager) fireConnection(up bool) {
	m.mu.Lock()
	fn := m.onConnection
	m.mu.Unlock()
	if fn != nil {
		fn(up)
	}
}

func (m *Manager) fireMessage(from string, msg *protocol.Message) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(from, msg)
	}
}

// handlePeerDown cleans up after an ungraceful peer loss. The host owns the
// departure: it retires the identity, clears the player's entities, and
// announces the leave the peer could not send itself. A client losing a peer
// has lost the host, and with it every remote entity's authority.
func (m *Manager) handlePeerDown(peerID string) {
	if !m.host {
		m.mu.Lock()
		myID := m.networkID
		m.mu.Unlock()

		removed := 0
		for _, e := range m.store.Entities() {
			if myID != "" && e.OwnerID == myID {
				continue
			}
			m.store.Remove(e.ID)
			removed++
		}
		util.LogWarning("host link lost, %d remote entities removed", removed)
		m.firePlayerLeave(HostNetworkID, "")
		return
	}
	netID, name, ok := m.identity.Remove(peerID)
	if !ok {
		return // never joined, nothing to announce
	}

	removed := m.store.RemoveOwned(netID)
	util.LogInfo("player %s (%s) dropped, %d entities removed", name, netID, len(removed))

	m.router.Send(protocol.New(protocol.LeavePayload{
		PeerID:   peerID,
		PlayerID: netID,
		Name:     name,
	}))
	m.firePlayerLeave(netID, name)
}
