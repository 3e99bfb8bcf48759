package wire

import "encoding/json"

// ProtocolVersion is the only version this engine accepts.
const ProtocolVersion = "1.0"

// Type enumerates the wire message types exchanged between client and
// server.
type Type string

const (
	TypeConnect            Type = "connect"
	TypeSync               Type = "sync"
	TypeSubmitEvents       Type = "submit_events"
	TypeConnected          Type = "connected"
	TypeSyncResponse       Type = "sync_response"
	TypeSubmitEventsResult Type = "submit_events_result"
	TypeEventBroadcast     Type = "event_broadcast"
	TypeError              Type = "error"
)

// Envelope is the wrapper every message on the wire carries.
type Envelope struct {
	Type            Type            `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	ProtocolVersion string          `json:"protocol_version"`
	MsgID           string          `json:"msg_id,omitempty"`
	Timestamp       int64           `json:"timestamp,omitempty"`
}

// Encode marshals a typed payload into an Envelope with the given type and
// the protocol version stamped, echoing msgID when present.
func Encode(typ Type, msgID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:            typ,
		Payload:         raw,
		ProtocolVersion: ProtocolVersion,
		MsgID:           msgID,
	}, nil
}

// DecodePayload unmarshals the envelope's payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}
