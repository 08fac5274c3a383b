package signal

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridfall/netplay/internal/session"
	"github.com/gridfall/netplay/internal/util"
)

// answerWait bounds how long the host waits for a joining client to send its
// answer blob back. Covers slow candidate gathering on the client side.
const answerWait = 30 * time.Second

const (
	exchangeOffer  = "offer"
	exchangeAnswer = "answer"
)

// exchangeMessage is the JSON structure carried over the WebSocket while
// automating the blob handoff. The blobs themselves are the same descriptors
// the manual copy-paste flow uses.
type exchangeMessage struct {
	Type string `json:"type"`
	Blob string `json:"blob"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Exchange is the host-side WebSocket server that automates the descriptor
// handoff. Joining clients receive a freshly negotiated offer and reply with
// their answer; negotiations run one at a time, in join order.
type Exchange struct {
	pin      string
	listener net.Listener
	connCh   chan *websocket.Conn
}

// NewExchange creates an exchange server gated by the given PIN.
func NewExchange(pin string) *Exchange {
	return &Exchange{
		pin:    pin,
		connCh: make(chan *websocket.Conn, 4),
	}
}

// Start begins listening on addr (":0" picks a random port on all
// interfaces). Returns the assigned port number.
func (e *Exchange) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start exchange server: %w", err)
	}
	e.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/join", e.handleJoin)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

func (e *Exchange) handleJoin(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin != e.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Queue the connection; negotiation is sequential.
	select {
	case e.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "join queue full"))
		conn.Close()
	}
}

// Serve negotiates with joining clients until ctx is cancelled. register is
// invoked with each new session before its channel can open, so the caller
// attaches handlers without missing early frames. A failed negotiation is
// logged and the loop moves on to the next client.
func (e *Exchange) Serve(ctx context.Context, neg *Negotiator, register func(*session.Session)) error {
	for {
		select {
		case conn := <-e.connCh:
			_, err := e.negotiate(ctx, neg, conn, register)
			conn.Close()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				util.LogWarning("exchange with joining client failed: %v", err)
				continue
			}
			util.LogInfo("client session established via exchange")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// negotiate runs one offer/answer round trip over an accepted connection and
// waits for the resulting session's channel to open.
func (e *Exchange) negotiate(ctx context.Context, neg *Negotiator, conn *websocket.Conn, register func(*session.Session)) (*session.Session, error) {
	blob, err := neg.CreateOffer(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(exchangeMessage{Type: exchangeOffer, Blob: blob}); err != nil {
		return nil, fmt.Errorf("send offer: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(answerWait))
	var msg exchangeMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}
	if msg.Type != exchangeAnswer {
		return nil, fmt.Errorf("%w: expected answer message, got %q", ErrNegotiation, msg.Type)
	}

	sess, err := neg.ProcessAnswer(msg.Blob)
	if err != nil {
		return nil, err
	}
	register(sess)

	select {
	case <-sess.Ready():
		return sess, nil
	case <-sess.Done():
		return nil, fmt.Errorf("%w: transport closed before channel opened", ErrNegotiation)
	case <-ctx.Done():
		sess.Close()
		return nil, ctx.Err()
	}
}

// Close shuts down the listener, preventing new connections.
func (e *Exchange) Close() {
	if e.listener != nil {
		e.listener.Close()
	}
}

// Join dials a host's exchange endpoint, answers its offer, and returns the
// session once its channel is open. register is invoked with the session
// before its channel can open, same contract as Serve.
func Join(ctx context.Context, neg *Negotiator, url string, register func(*session.Session)) (*session.Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial exchange: %w", err)
	}
	defer conn.Close()

	var msg exchangeMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read offer: %w", err)
	}
	if msg.Type != exchangeOffer {
		return nil, fmt.Errorf("%w: expected offer message, got %q", ErrNegotiation, msg.Type)
	}

	sess, answer, err := neg.CreateAnswer(ctx, msg.Blob)
	if err != nil {
		return nil, err
	}
	register(sess)

	if err := conn.WriteJSON(exchangeMessage{Type: exchangeAnswer, Blob: answer}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("send answer: %w", err)
	}

	select {
	case <-sess.Ready():
		return sess, nil
	case <-sess.Done():
		return nil, fmt.Errorf("%w: transport closed before channel opened", ErrNegotiation)
	case <-ctx.Done():
		sess.Close()
		return nil, ctx.Err()
	}
}

// JoinURL formats the exchange endpoint a client dials to join a host.
func JoinURL(host string, port int, pin string) string {
	return fmt.Sprintf("ws://%s:%d/join?pin=%s", host, port, pin)
}

// GeneratePIN returns a random numeric PIN of the given length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
