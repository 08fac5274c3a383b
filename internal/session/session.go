// Package session wraps a single WebRTC peer connection and its message
// channel behind lifecycle callbacks: one Session per remote peer.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/gridfall/netplay/internal/util"
)

const (
	// connectWarnAfter is the soft connection timeout: if the connection has
	// not reached connected by then, a warning is logged but the session is
	// left alone — ICE may still succeed later.
	connectWarnAfter = 30 * time.Second

	// maxBufferedBytes is the outbound buffer ceiling. Sends are dropped
	// rather than queued beyond it: the protocol is lossy and the next state
	// broadcast supersedes anything still waiting.
	maxBufferedBytes = 256 * 1024
)

// Side selects which end of the negotiation this session is.
type Side int

const (
	// SideOffer creates the message channel itself.
	SideOffer Side = iota
	// SideAnswer receives the message channel from the remote side, possibly
	// after the connection is already marked connected.
	SideAnswer
)

// Options tunes channel creation. The zero value is the default: unordered,
// zero retransmits.
type Options struct {
	Ordered bool
}

// Session owns one PeerConnection and its single message channel.
//
// Its lifecycle is governed by the channel state: Ready() is closed when the
// channel opens, Done() when the session is torn down. State callbacks each
// fire at most once per logical event and may be invoked from pion's
// goroutines; receivers must do their own serialization.
type Session struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	dc      *webrtc.DataChannel // nil on the answer side until it arrives
	pcState webrtc.PeerConnectionState
	closed  bool

	onConnected    func()
	onDisconnected func(reason string)
	onChannelReady func()
	onMessage      func([]byte)

	openSignal chan struct{}
	openOnce   sync.Once
	done       chan struct{}
	downOnce   sync.Once

	warnTimer *time.Timer
}

// New creates a Session backed by a new PeerConnection. The offer side opens
// the message channel immediately; the answer side attaches it whenever the
// remote's channel announcement arrives, regardless of ordering against the
// connection state change.
func New(side Side, opts Options) (*Session, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}

	s := &Session{
		pc:         pc,
		pcState:    webrtc.PeerConnectionStateNew,
		openSignal: make(chan struct{}),
		done:       make(chan struct{}),
	}

	s.warnTimer = time.AfterFunc(connectWarnAfter, func() {
		util.LogWarning("connection not established after %s, still waiting", connectWarnAfter)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("connection state: %s", state.String())

		s.mu.Lock()
		s.pcState = state
		onConnected := s.onConnected
		s.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.warnTimer.Stop()
			if onConnected != nil {
				onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.teardown("connection " + state.String())
		case webrtc.PeerConnectionStateDisconnected:
			util.LogWarning("connection interrupted, waiting for recovery")
		}
	})

	switch side {
	case SideOffer:
		dc, err := newDataChannel(pc, opts.Ordered)
		if err != nil {
			pc.Close()
			return nil, err
		}
		s.attachChannel(dc)
	case SideAnswer:
		pc.OnDataChannel(s.attachChannel)
	}

	return s, nil
}

// attachChannel wires the message channel handlers. Idempotent with respect
// to arrival order: handlers forward to whatever callbacks are registered at
// event time.
func (s *Session) attachChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	if s.dc != nil {
		s.mu.Unlock()
		util.LogWarning("duplicate message channel %q ignored", dc.Label())
		return
	}
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.openOnce.Do(func() {
			close(s.openSignal)

			s.mu.Lock()
			onReady := s.onChannelReady
			s.mu.Unlock()
			if onReady != nil {
				onReady()
			}
		})
	})

	dc.OnClose(func() {
		s.teardown("channel closed")
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))

		s.mu.Lock()
		onMessage := s.onMessage
		s.mu.Unlock()
		if onMessage != nil {
			onMessage(msg.Data)
		}
	})
}

// teardown releases the session exactly once and reports the reason, unless
// the session was closed locally first.
func (s *Session) teardown(reason string) {
	s.downOnce.Do(func() {
		s.warnTimer.Stop()

		s.mu.Lock()
		suppressed := s.closed
		onDisconnected := s.onDisconnected
		s.mu.Unlock()

		if !suppressed && onDisconnected != nil {
			onDisconnected(reason)
		}
		close(s.done)
	})
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// OnConnected registers fn to run when the connection reaches connected.
func (s *Session) OnConnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = fn
}

// OnDisconnected registers fn to run when the connection fails or the channel
// closes. Not invoked when the session is closed locally.
func (s *Session) OnDisconnected(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

// OnChannelReady registers fn to run once the message channel is open.
func (s *Session) OnChannelReady(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChannelReady = fn
}

// OnMessage registers fn for every inbound channel frame.
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel closed when the message channel is open.
func (s *Session) Ready() <-chan struct{} { return s.openSignal }

// Done returns a channel closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// ConnectionState returns the last observed PeerConnection state.
func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcState
}

// Open reports whether the message channel is currently usable.
func (s *Session) Open() bool {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close shuts down the channel and connection without firing OnDisconnected:
// local teardown is not a peer-loss event.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	dc := s.dc
	s.mu.Unlock()

	s.teardown("closed locally")

	var errs []error
	if dc != nil {
		errs = append(errs, dc.Close())
	}
	errs = append(errs, s.pc.Close())
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send transmits one frame, best-effort. Frames are dropped silently when the
// channel is not open or the outbound buffer is saturated; the protocol is
// lossy and callers must not depend on delivery.
func (s *Session) Send(b []byte) {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		util.LogDebug("send dropped: channel not open")
		return
	}
	if dc.BufferedAmount() > maxBufferedBytes {
		util.LogDebug("send dropped: %d bytes buffered", dc.BufferedAmount())
		return
	}

	if err := dc.Send(b); err != nil {
		util.LogDebug("send failed: %v", err)
		return
	}
	util.Stats.AddSent(1, len(b))
}

// ---------------------------------------------------------------------------
// Negotiation surface
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	return s.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (s *Session) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (s *Session) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(sdp)
}

// LocalDescription returns the current local SDP including any candidates
// gathered so far, or nil if none has been set.
func (s *Session) LocalDescription() *webrtc.SessionDescription {
	return s.pc.LocalDescription()
}

// GatherComplete returns a channel closed once ICE candidate gathering for
// the current local description has finished.
func (s *Session) GatherComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(s.pc)
}
