// Package router fans typed messages out to registered peers with
// priority-based batching and dispatches inbound frames back up. On the host
// it also relays peer traffic to the other peers, making the star topology
// look fully connected to the layer above.
package router

import (
	"sync"
	"time"

	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/util"
)

// heartbeatInterval is how often open peers are pinged. Pings bypass the
// batching queues so latency numbers are not skewed by the low window.
const heartbeatInterval = 5 * time.Second

// Link is the transport surface the router drives; one per remote peer.
// *session.Session implements it.
type Link interface {
	// Send transmits one frame, best-effort.
	Send(b []byte)
	// Open reports whether frames can currently be sent.
	Open() bool
	// OnMessage registers the inbound frame handler.
	OnMessage(fn func(b []byte))
	// OnChannelReady registers the channel-open handler.
	OnChannelReady(fn func())
	// OnDisconnected registers the peer-loss handler.
	OnDisconnected(fn func(reason string))
}

// peer is one registered remote endpoint.
type peer struct {
	link     Link
	open     bool
	lastSeen time.Time
	latency  time.Duration
}

// Router owns the peer table and the outbound queues.
//
// Callbacks fire without internal locks held, on whatever goroutine triggered
// the event; receivers serialize their own state.
type Router struct {
	relay bool             // hub duty: forward peer traffic to the other peers
	now   func() time.Time // swapped in tests

	mu        sync.Mutex
	peers     map[string]*peer
	queues    [protocol.NumPriorities]queue
	seq       uint64
	connected bool
	lastPing  time.Time
	closed    bool

	onMessage   func(from string, msg *protocol.Message)
	onPeerUp    func(peerID string)
	onPeerDown  func(peerID string, reason string)
	onConnected func(up bool)
}

// New creates a Router. relay enables hub duty and is set only on the host.
func New(relay bool) *Router {
	return &Router{
		relay: relay,
		now:   time.Now,
		peers: make(map[string]*peer),
	}
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// OnMessage registers fn for every decoded gameplay message. Heartbeat
// traffic is consumed internally and never reaches fn.
func (r *Router) OnMessage(fn func(from string, msg *protocol.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = fn
}

// OnPeerUp registers fn to run when a peer's channel opens.
func (r *Router) OnPeerUp(fn func(peerID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPeerUp = fn
}

// OnPeerDown registers fn to run when an open peer is lost.
func (r *Router) OnPeerDown(fn func(peerID string, reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPeerDown = fn
}

// OnConnectionState registers fn to run when overall connectivity changes:
// true when the first peer channel opens, false when the last one is lost.
func (r *Router) OnConnectionState(fn func(connected bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnected = fn
}

// ---------------------------------------------------------------------------
// Peer lifecycle
// ---------------------------------------------------------------------------

// Register adds a remote peer and claims its link handlers. Call before the
// link's channel can open, or early frames are lost.
func (r *Router) Register(peerID string, link Link) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.peers[peerID] = &peer{link: link, lastSeen: r.now()}
	r.mu.Unlock()

	link.OnMessage(func(b []byte) { r.receive(peerID, b) })
	link.OnChannelReady(func() { r.peerUp(peerID) })
	link.OnDisconnected(func(reason string) { r.peerDown(peerID, reason) })

	// The channel may have opened before the handler was claimed.
	if link.Open() {
		r.peerUp(peerID)
	}
}

func (r *Router) peerUp(peerID string) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok || p.open {
		r.mu.Unlock()
		return
	}
	p.open = true
	p.lastSeen = r.now()
	first := !r.connected
	if first {
		r.connected = true
	}
	onPeerUp := r.onPeerUp
	onConnected := r.onConnected
	r.mu.Unlock()

	util.LogInfo("peer %s channel open", util.ShortID(peerID))
	if onPeerUp != nil {
		onPeerUp(peerID)
	}
	if first && onConnected != nil {
		onConnected(true)
	}
}

func (r *Router) peerDown(peerID string, reason string) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, peerID)
	wasOpen := p.open

	anyOpen := false
	for _, q := range r.peers {
		if q.open {
			anyOpen = true
			break
		}
	}
	last := r.connected && !anyOpen
	if last {
		r.connected = false
	}
	onPeerDown := r.onPeerDown
	onConnected := r.onConnected
	r.mu.Unlock()

	util.LogWarning("peer %s lost: %s", util.ShortID(peerID), reason)
	if wasOpen && onPeerDown != nil {
		onPeerDown(peerID, reason)
	}
	if last && onConnected != nil {
		onConnected(false)
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Connected reports whether at least one peer channel is open.
func (r *Router) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Peers returns the ids of all registered peers, in no particular order.
func (r *Router) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// Latency returns the last measured round trip to a peer.
func (r *Router) Latency(peerID string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok || p.latency == 0 {
		return 0, false
	}
	return p.latency, true
}

// Close drops all peers and queued messages. Links are not closed here;
// their owner does that.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.connected = false
	r.peers = make(map[string]*peer)
	for i := range r.queues {
		r.queues[i].msgs = nil
		r.queues[i].windowAt = time.Time{}
	}
}
