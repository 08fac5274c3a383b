// Package protocol defines the typed message envelope and per-type payloads
// exchanged between peers over the DataChannel.
package protocol

import "time"

// Type identifies the kind of network message.
type Type uint8

// Message type constants. Zero is reserved as invalid so that an envelope
// missing its "type" key fails to decode.
const (
	TypePlayerJoin Type = iota + 1
	TypePlayerLeave
	TypeChat
	TypeEntityUpdate
	TypeEntityStateBatch
	TypeFullGameState
	TypePlayerInput
	TypePlayerAction
	TypePing
	TypePong
	TypeGameStateRequest
	TypeGameStateResponse
)

var typeNames = map[Type]string{
	TypePlayerJoin:        "PLAYER_JOIN",
	TypePlayerLeave:       "PLAYER_LEAVE",
	TypeChat:              "CHAT",
	TypeEntityUpdate:      "ENTITY_UPDATE",
	TypeEntityStateBatch:  "ENTITY_STATE_BATCH",
	TypeFullGameState:     "FULL_GAME_STATE",
	TypePlayerInput:       "PLAYER_INPUT",
	TypePlayerAction:      "PLAYER_ACTION",
	TypePing:              "PING",
	TypePong:              "PONG",
	TypeGameStateRequest:  "GAME_STATE_REQUEST",
	TypeGameStateResponse: "GAME_STATE_RESPONSE",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// DefaultPriority returns the priority a message of this type is sent with
// unless the caller overrides it.
func (t Type) DefaultPriority() Priority {
	switch t {
	case TypePlayerJoin, TypePlayerLeave, TypeFullGameState, TypeGameStateResponse:
		return PriorityCritical
	case TypeChat, TypePlayerInput, TypePlayerAction, TypeGameStateRequest:
		return PriorityHigh
	case TypeEntityUpdate, TypeEntityStateBatch:
		return PriorityMedium
	case TypePing, TypePong:
		return PriorityLow
	}
	return PriorityMedium
}

// Priority controls how long a message may linger in its outbound batch.
type Priority uint8

const (
	PriorityCritical Priority = iota // flushed immediately
	PriorityHigh
	PriorityMedium
	PriorityLow

	// NumPriorities is the number of distinct priority levels.
	NumPriorities = 4
)

// Delay returns the batching window for the priority. Messages enqueued at
// this priority accumulate for at most this long before flushing.
func (p Priority) Delay() time.Duration {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 8 * time.Millisecond
	case PriorityMedium:
		return 16 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "invalid"
}

// Message is one protocol message. Timestamp and SequenceNumber are stamped
// by the sending router at send time; sequence numbers are monotonic per
// sender and carry no cross-peer meaning.
type Message struct {
	Type           Type
	Priority       Priority
	Timestamp      int64 // unix milliseconds
	SequenceNumber uint64
	Payload        Payload // nil when Type is not known to this build
}

// New builds an unsent message for the given payload, with the type derived
// from the payload variant and the type's default priority.
func New(p Payload) *Message {
	t := p.payloadType()
	return &Message{Type: t, Priority: t.DefaultPriority(), Payload: p}
}

// Known reports whether the message type is one this build understands.
// Unknown types are forwarded by the host and ignored by everyone else.
func (m *Message) Known() bool {
	_, ok := typeNames[m.Type]
	return ok
}
