// Package signal produces and consumes the opaque descriptor blobs that
// establish a Session between exactly two peers. The blobs travel out of
// band — copy-paste, or the WebSocket exchange in this package — so no
// signaling infrastructure is required.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/gridfall/netplay/internal/session"
	"github.com/gridfall/netplay/internal/util"
)

var (
	// ErrNegotiation marks a malformed or missing descriptor blob. Surfaced
	// to the caller and never retried automatically.
	ErrNegotiation = errors.New("signal: negotiation failed")

	// ErrInvalidState marks an operation attempted in the wrong negotiation
	// phase, such as processing an answer with no pending offer. The caller
	// must start the flow over.
	ErrInvalidState = errors.New("signal: invalid negotiation state")
)

// DefaultGatherTimeout bounds the wait for ICE candidate gathering. Past it
// the description is used as-is: possibly incomplete, usually usable.
const DefaultGatherTimeout = 10 * time.Second

// State tracks the most recent negotiation's progress.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswering:
		return "answering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Negotiator drives one offer/answer exchange at a time. A host connecting
// several clients runs the flow once per client; there is no renegotiation,
// a failed exchange starts over from CreateOffer.
type Negotiator struct {
	gatherTimeout time.Duration
	channelOpts   session.Options

	mu      sync.Mutex
	state   State
	pending *session.Session // offer-side session awaiting its answer
}

// NewNegotiator creates a Negotiator with the default gathering timeout and
// channel options.
func NewNegotiator() *Negotiator {
	return &Negotiator{gatherTimeout: DefaultGatherTimeout}
}

// SetGatherTimeout overrides the candidate-gathering timeout.
func (n *Negotiator) SetGatherTimeout(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gatherTimeout = d
}

// SetChannelOptions overrides the message-channel options used for sessions
// created by this negotiator.
func (n *Negotiator) SetChannelOptions(opts session.Options) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channelOpts = opts
}

// State returns the progress of the most recent negotiation.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// CreateOffer starts a new offer-side negotiation: it builds a Session with
// an open channel request, waits (bounded) for candidate gathering, and
// returns the descriptor blob to hand to the remote side. Any previously
// pending offer is abandoned.
func (n *Negotiator) CreateOffer(ctx context.Context) (string, error) {
	n.mu.Lock()
	if n.pending != nil {
		util.LogWarning("abandoning pending offer, starting over")
		n.pending.Close()
		n.pending = nil
	}
	n.state = StateOffering
	timeout := n.gatherTimeout
	opts := n.channelOpts
	n.mu.Unlock()

	sess, err := session.New(session.SideOffer, opts)
	if err != nil {
		n.setState(StateFailed)
		return "", fmt.Errorf("%w: create transport: %v", ErrNegotiation, err)
	}

	// The gather promise must exist before SetLocalDescription starts
	// gathering, or completion can be missed.
	gathered := sess.GatherComplete()

	offer, err := sess.CreateOffer()
	if err != nil {
		sess.Close()
		n.setState(StateFailed)
		return "", fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}
	if err := sess.SetLocalDescription(offer); err != nil {
		sess.Close()
		n.setState(StateFailed)
		return "", fmt.Errorf("%w: apply local offer: %v", ErrNegotiation, err)
	}

	if err := waitForGathering(ctx, gathered, timeout); err != nil {
		sess.Close()
		n.setState(StateFailed)
		return "", err
	}

	blob, err := encodeBlob(sess.LocalDescription())
	if err != nil {
		sess.Close()
		n.setState(StateFailed)
		return "", err
	}

	n.mu.Lock()
	n.pending = sess
	n.state = StateAwaitingAnswer
	n.mu.Unlock()

	return blob, nil
}

// CreateAnswer consumes an offer blob and produces the answer side: a new
// Session with the remote description applied, plus the answer blob to send
// back. The returned session connects once the remote processes the answer;
// the caller should register it before that happens.
func (n *Negotiator) CreateAnswer(ctx context.Context, offerBlob string) (*session.Session, string, error) {
	n.setState(StateAnswering)

	desc, err := decodeBlob(offerBlob)
	if err != nil {
		n.setState(StateFailed)
		return nil, "", err
	}
	if desc.Type != webrtc.SDPTypeOffer {
		n.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: expected offer, got %s", ErrNegotiation, desc.Type)
	}

	n.mu.Lock()
	timeout := n.gatherTimeout
	opts := n.channelOpts
	n.mu.Unlock()

	sess, err := session.New(session.SideAnswer, opts)
	if err != nil {
		n.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: create transport: %v", ErrNegotiation, err)
	}

	if err := sess.SetRemoteDescription(desc); err != nil {
		sess.Close()
		n.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: apply remote offer: %v", ErrNegotiation, err)
	}

	gathered := sess.GatherComplete()

	answer, err := sess.CreateAnswer()
	if err != nil {
		sess.Close()
		n.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: create answer: %v", ErrNegotiation, err)
	}
	if err := sess.SetLocalDescription(answer); err != nil {
		sess.Close()
		n.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: apply local answer: %v", ErrNegotiation, err)
	}

	if err := waitForGathering(ctx, gathered, timeout); err != nil {
		sess.Close()
		n.setState(StateFailed)
		return nil, "", err
	}

	blob, err := encodeBlob(sess.LocalDescription())
	if err != nil {
		sess.Close()
		n.setState(StateFailed)
		return nil, "", err
	}

	n.setState(StateConnecting)
	n.watch(sess)
	return sess, blob, nil
}

// ProcessAnswer applies an answer blob to the pending offer-side session,
// promoting it from pending to connecting, and returns it for registration.
func (n *Negotiator) ProcessAnswer(answerBlob string) (*session.Session, error) {
	n.mu.Lock()
	sess := n.pending
	n.mu.Unlock()

	if sess == nil {
		return nil, fmt.Errorf("%w: no offer pending", ErrInvalidState)
	}

	desc, err := decodeBlob(answerBlob)
	if err != nil {
		return nil, err
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return nil, fmt.Errorf("%w: expected answer, got %s", ErrNegotiation, desc.Type)
	}

	if err := sess.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("%w: apply remote answer: %v", ErrNegotiation, err)
	}

	n.mu.Lock()
	n.pending = nil
	n.state = StateConnecting
	n.mu.Unlock()

	n.watch(sess)
	return sess, nil
}

// watch follows the session through to connected or failed. The state is
// informational only; a later negotiation resets it.
func (n *Negotiator) watch(sess *session.Session) {
	go func() {
		select {
		case <-sess.Ready():
			n.setState(StateConnected)
		case <-sess.Done():
			n.setState(StateFailed)
		}
	}()
}

// waitForGathering blocks until gathering completes, the timeout passes, or
// ctx is cancelled. A timeout is not an error: whatever candidates were
// gathered are used.
func waitForGathering(ctx context.Context, gathered <-chan struct{}, timeout time.Duration) error {
	select {
	case <-gathered:
		return nil
	case <-time.After(timeout):
		util.LogWarning("candidate gathering incomplete after %s, proceeding", timeout)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
