package router

import (
	"time"

	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/util"
)

// queue accumulates messages of one priority. The window opens when a
// message enters an empty queue and the whole queue flushes once the
// priority's delay has elapsed.
type queue struct {
	msgs     []*protocol.Message
	windowAt time.Time
}

// Send broadcasts a message to every open peer, subject to its priority's
// batching window. The message is stamped here, at enqueue, so wire
// timestamps reflect send intent rather than flush time. Critical messages
// flush their queue synchronously; the rest wait for Update.
func (r *Router) Send(msg *protocol.Message) {
	pri := msg.Priority
	if int(pri) >= protocol.NumPriorities {
		// Unknown priorities ride the slowest queue.
		pri = protocol.PriorityLow
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.stampLocked(msg)
	q := &r.queues[pri]
	if len(q.msgs) == 0 {
		q.windowAt = r.now()
	}
	q.msgs = append(q.msgs, msg)

	var frames [][]byte
	var links []Link
	if pri == protocol.PriorityCritical {
		frames = r.drainLocked(q)
		links = r.openLinksLocked()
	}
	r.mu.Unlock()

	r.fanOut(frames, links)
}

// SendTo sends a message to a single peer immediately, bypassing the
// batching queues. Used for replies that target one peer: state snapshots
// and heartbeat answers.
func (r *Router) SendTo(peerID string, msg *protocol.Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		util.LogDebug("send to unknown peer %s dropped", util.ShortID(peerID))
		return
	}
	link := p.link
	r.stampLocked(msg)
	frame, encOK := encodeFrame(msg)
	r.mu.Unlock()

	if encOK {
		link.Send(frame)
	}
}

// Update flushes every queue whose window has elapsed and drives the
// heartbeat. Call once per frame.
func (r *Router) Update() {
	now := r.now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	var frames [][]byte
	for pri := range r.queues {
		q := &r.queues[pri]
		if len(q.msgs) == 0 {
			continue
		}
		if now.Sub(q.windowAt) < protocol.Priority(pri).Delay() {
			continue
		}
		frames = append(frames, r.drainLocked(q)...)
	}
	links := r.openLinksLocked()

	var ping []byte
	if now.Sub(r.lastPing) >= heartbeatInterval {
		r.lastPing = now
		if len(links) > 0 {
			msg := protocol.New(protocol.PingPayload{})
			r.stampLocked(msg)
			ping, _ = encodeFrame(msg)
		}
	}
	r.mu.Unlock()

	r.fanOut(frames, links)
	if ping != nil {
		for _, link := range links {
			link.Send(ping)
		}
	}
}

// drainLocked empties q, merging entity updates into a single batch when
// more than one is present, and encodes everything in enqueue order. The
// batch takes the slot of the first update it absorbed; being a new message,
// it is the only thing stamped here — everything else keeps its enqueue
// stamp. Caller holds r.mu.
func (r *Router) drainLocked(q *queue) [][]byte {
	msgs := q.msgs
	q.msgs = nil
	q.windowAt = time.Time{}

	var updates []protocol.EntityUpdatePayload
	var firstUpdate *protocol.Message
	slot := -1
	kept := make([]*protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		if up, ok := m.Payload.(protocol.EntityUpdatePayload); ok {
			if slot == -1 {
				slot = len(kept)
				kept = append(kept, nil)
				firstUpdate = m
			}
			updates = append(updates, up)
			continue
		}
		kept = append(kept, m)
	}
	if slot >= 0 {
		if len(updates) == 1 {
			kept[slot] = firstUpdate
		} else {
			batch := protocol.New(protocol.EntityBatchPayload{Entities: updates})
			r.stampLocked(batch)
			kept[slot] = batch
			util.Stats.AddBatch()
		}
	}

	frames := make([][]byte, 0, len(kept))
	for _, m := range kept {
		frame, ok := encodeFrame(m)
		if !ok {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// stampLocked marks msg with send time and the next sequence number. Caller
// holds r.mu.
func (r *Router) stampLocked(msg *protocol.Message) {
	r.seq++
	msg.Timestamp = r.now().UnixMilli()
	msg.SequenceNumber = r.seq
}

func encodeFrame(msg *protocol.Message) ([]byte, bool) {
	b, err := protocol.Encode(msg)
	if err != nil {
		util.LogError("encode %s failed: %v", msg.Type, err)
		return nil, false
	}
	return b, true
}

func (r *Router) openLinksLocked() []Link {
	links := make([]Link, 0, len(r.peers))
	for _, p := range r.peers {
		if p.open && p.link.Open() {
			links = append(links, p.link)
		}
	}
	return links
}

// fanOut sends each frame to each link, outside any lock.
func (r *Router) fanOut(frames [][]byte, links []Link) {
	for _, frame := range frames {
		for _, link := range links {
			link.Send(frame)
		}
	}
}
