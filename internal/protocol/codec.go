package protocol

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire shape of a Message:
// {type, priority, timestamp, sequenceNumber, data}.
type envelope struct {
	Type           Type            `json:"type"`
	Priority       Priority        `json:"priority"`
	Timestamp      int64           `json:"timestamp"`
	SequenceNumber uint64          `json:"sequenceNumber"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Encode serializes a Message for DataChannel transmission.
func Encode(m *Message) ([]byte, error) {
	env := envelope{
		Type:           m.Type,
		Priority:       m.Priority,
		Timestamp:      m.Timestamp,
		SequenceNumber: m.SequenceNumber,
	}
	if m.Payload != nil {
		data, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", m.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode deserializes a wire frame into a Message. A frame whose type is not
// known to this build decodes without error but with a nil Payload, so the
// receiver can forward or ignore it instead of tearing the connection down.
func Decode(raw []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == 0 {
		return nil, fmt.Errorf("decode envelope: missing message type")
	}

	payload, err := decodePayload(env.Type, env.Data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:           env.Type,
		Priority:       env.Priority,
		Timestamp:      env.Timestamp,
		SequenceNumber: env.SequenceNumber,
		Payload:        payload,
	}, nil
}

// decodePayload decodes the data field into the variant for t.
func decodePayload(t Type, data json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch t {
	case TypePlayerJoin:
		var p JoinPayload
		err = unmarshal(data, &p)
		payload = p
	case TypePlayerLeave:
		var p LeavePayload
		err = unmarshal(data, &p)
		payload = p
	case TypeChat:
		var p ChatPayload
		err = unmarshal(data, &p)
		payload = p
	case TypeEntityUpdate:
		var p EntityUpdatePayload
		err = unmarshal(data, &p)
		payload = p
	case TypeEntityStateBatch:
		var p EntityBatchPayload
		err = unmarshal(data, &p)
		payload = p
	case TypeFullGameState:
		var p FullStatePayload
		err = unmarshal(data, &p)
		payload = p
	case TypePlayerInput:
		var p InputPayload
		err = unmarshal(data, &p)
		payload = p
	case TypePlayerAction:
		var p ActionPayload
		err = unmarshal(data, &p)
		payload = p
	case TypePing:
		var p PingPayload
		err = unmarshal(data, &p)
		payload = p
	case TypePong:
		var p PongPayload
		err = unmarshal(data, &p)
		payload = p
	case TypeGameStateRequest:
		var p StateRequestPayload
		err = unmarshal(data, &p)
		payload = p
	case TypeGameStateResponse:
		var p StateResponsePayload
		err = unmarshal(data, &p)
		payload = p
	default:
		// Unknown type — leave the payload nil.
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return payload, nil
}

// unmarshal decodes data into v, treating an absent or null data field as the
// zero payload.
func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
