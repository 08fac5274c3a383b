package router

import (
	"time"

	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/util"
)

// receive decodes one inbound frame, answers heartbeats, performs hub duty,
// and hands gameplay messages to the message callback.
func (r *Router) receive(from string, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		util.LogWarning("drop malformed frame from %s: %v", util.ShortID(from), err)
		return
	}

	r.mu.Lock()
	if p, ok := r.peers[from]; ok {
		p.lastSeen = r.now()
	}
	r.mu.Unlock()

	switch msg.Type {
	case protocol.TypePing:
		// Answer immediately, echoing the ping's send stamp.
		r.SendTo(from, protocol.New(protocol.PongPayload{Timestamp: msg.Timestamp}))
		return
	case protocol.TypePong:
		r.recordLatency(from, msg)
		return
	}

	// Hub duty: forward the original frame to every other open peer, unknown
	// types included so newer builds can talk through an older host.
	if r.relay {
		r.mu.Lock()
		links := make([]Link, 0, len(r.peers))
		for id, p := range r.peers {
			if id == from || !p.open || !p.link.Open() {
				continue
			}
			links = append(links, p.link)
		}
		r.mu.Unlock()

		if len(links) > 0 {
			for _, link := range links {
				link.Send(raw)
			}
			util.Stats.AddRelayed()
		}
	}

	if !msg.Known() {
		util.LogDebug("drop unknown message type %d from %s", msg.Type, util.ShortID(from))
		return
	}

	r.mu.Lock()
	onMessage := r.onMessage
	r.mu.Unlock()
	if onMessage != nil {
		onMessage(from, msg)
	}
}

// recordLatency derives the round trip from a pong's echoed send stamp.
func (r *Router) recordLatency(from string, msg *protocol.Message) {
	p, ok := msg.Payload.(protocol.PongPayload)
	if !ok {
		return
	}
	rtt := time.Duration(r.now().UnixMilli()-p.Timestamp) * time.Millisecond
	if rtt < 0 {
		return
	}

	r.mu.Lock()
	if peer, ok := r.peers[from]; ok {
		peer.latency = rtt
	}
	r.mu.Unlock()
	util.LogDebug("peer %s round trip %s", util.ShortID(from), rtt)
}
