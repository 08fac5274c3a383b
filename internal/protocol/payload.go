package protocol

import "encoding/json"

// Payload is the type-specific body of a Message. Exactly one concrete
// variant exists per message Type; the codec decodes the "data" field into
// the matching variant via an exhaustive switch.
type Payload interface {
	payloadType() Type
}

// Entity type tags carried in snapshots.
const (
	EntityTypePlayer = "player"
	EntityTypeEntity = "entity"
)

// JoinPayload announces a newly connected player.
type JoinPayload struct {
	Name string `json:"name"`
}

// LeavePayload announces a departed player. Synthetic leaves broadcast on
// disconnect carry the network player id so that clients, which know remote
// players only by network id, can clean up.
type LeavePayload struct {
	PeerID   string `json:"peerId"`
	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// ChatPayload is a broadcast chat line.
type ChatPayload struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// EntityUpdatePayload is one entity snapshot: the authoritative position,
// rotation and optional velocity of a single entity. Rotation is a unit
// quaternion (x, y, z, w).
type EntityUpdatePayload struct {
	EntityID        string     `json:"entityId"`
	Position        [3]float64 `json:"position"`
	Rotation        [4]float64 `json:"rotation"`
	Velocity        []float64  `json:"velocity,omitempty"`
	EntityType      string     `json:"entityType"`
	NetworkPlayerID string     `json:"networkPlayerId,omitempty"`
	ModelID         string     `json:"modelId,omitempty"`
	Frame           int        `json:"frame,omitempty"`
}

// EntityBatchPayload is produced only by the router's flush-time merge of
// multiple ENTITY_UPDATE messages. Order of the original updates is preserved.
type EntityBatchPayload struct {
	Entities []EntityUpdatePayload `json:"entities"`
}

// FullStatePayload is the complete entity snapshot pushed to a newly joined
// peer. HostID is the host's own network identity; PlayerID is the network id
// the host assigned to the receiving peer. The same payload answers a
// GAME_STATE_REQUEST.
type FullStatePayload struct {
	HostID   string                `json:"hostId"`
	PlayerID string                `json:"playerId"`
	Entities []EntityUpdatePayload `json:"entities"`
}

// InputPayload carries raw player input. The network core routes it without
// interpreting it.
type InputPayload struct {
	PlayerID string     `json:"playerId"`
	Move     [2]float64 `json:"move"` // x/z movement axes, -1..1
	Yaw      float64    `json:"yaw"`
	Pitch    float64    `json:"pitch"`
	Jump     bool       `json:"jump,omitempty"`
}

// ActionPayload carries a named game action. Params stays raw so the network
// layer needs no knowledge of individual actions.
type ActionPayload struct {
	PlayerID string          `json:"playerId"`
	Name     string          `json:"name"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// PingPayload is empty; the heartbeat round trip is measured from the
// envelope timestamp echoed back in the pong.
type PingPayload struct{}

// PongPayload echoes the originating ping's envelope timestamp.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// StateRequestPayload asks the host to retransmit the full game state.
type StateRequestPayload struct{}

// StateResponsePayload is the host's answer to a GAME_STATE_REQUEST. It is
// structurally identical to a full-state push and applied the same way.
type StateResponsePayload FullStatePayload

func (JoinPayload) payloadType() Type          { return TypePlayerJoin }
func (LeavePayload) payloadType() Type         { return TypePlayerLeave }
func (ChatPayload) payloadType() Type          { return TypeChat }
func (EntityUpdatePayload) payloadType() Type  { return TypeEntityUpdate }
func (EntityBatchPayload) payloadType() Type   { return TypeEntityStateBatch }
func (FullStatePayload) payloadType() Type     { return TypeFullGameState }
func (InputPayload) payloadType() Type         { return TypePlayerInput }
func (ActionPayload) payloadType() Type        { return TypePlayerAction }
func (PingPayload) payloadType() Type          { return TypePing }
func (PongPayload) payloadType() Type          { return TypePong }
func (StateRequestPayload) payloadType() Type  { return TypeGameStateRequest }
func (StateResponsePayload) payloadType() Type { return TypeGameStateResponse }
