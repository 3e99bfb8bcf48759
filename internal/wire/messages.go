package wire

import "encoding/json"

// ConnectPayload is the client -> server handshake request.
type ConnectPayload struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

// ConnectedPayload is the server -> client handshake acknowledgement.
type ConnectedPayload struct {
	ClientID            string `json:"client_id"`
	ServerLastCommittedID uint64 `json:"server_last_committed_id"`
}

// SyncPayload is the client -> server catch-up request.
type SyncPayload struct {
	Partitions       []string `json:"partitions"`
	SinceCommittedID uint64   `json:"since_committed_id"`
	Limit            int      `json:"limit,omitempty"`
}

// WireCommittedEvent is the over-the-wire shape of a committed row.
type WireCommittedEvent struct {
	ID              string          `json:"id"`
	ClientID        string          `json:"client_id"`
	Partitions      []string        `json:"partitions"`
	CommittedID     uint64          `json:"committed_id"`
	Event           json.RawMessage `json:"event"`
	StatusUpdatedAt uint64          `json:"status_updated_at"`
}

// SyncResponsePayload is the server -> client page of committed events.
type SyncResponsePayload struct {
	Partitions          []string              `json:"partitions"`
	Events              []WireCommittedEvent  `json:"events"`
	NextSinceCommittedID uint64               `json:"next_since_committed_id"`
	HasMore             bool                  `json:"has_more"`
}

// SubmitItem is a single draft submission (core mode: exactly one per
// request).
type SubmitItem struct {
	ID         string          `json:"id"`
	Partitions []string        `json:"partitions"`
	Event      json.RawMessage `json:"event"`
}

// SubmitEventsPayload is the client -> server submission request.
type SubmitEventsPayload struct {
	Events []SubmitItem `json:"events"`
}

// SubmitResultWireEntry is the wire shape of one submit_events_result entry.
type SubmitResultWireEntry struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	CommittedID     uint64       `json:"committed_id,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Errors          []WireFieldError `json:"errors,omitempty"`
	StatusUpdatedAt uint64       `json:"status_updated_at"`
}

// WireFieldError mirrors model.FieldError for wire transport.
type WireFieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SubmitEventsResultPayload is the server -> client reply to a submission.
type SubmitEventsResultPayload struct {
	Results []SubmitResultWireEntry `json:"results"`
}

// EventBroadcastPayload is a server -> client fan-out delivery of a
// committed event originating from another session.
type EventBroadcastPayload struct {
	ID              string          `json:"id"`
	ClientID        string          `json:"client_id"`
	Partitions      []string        `json:"partitions"`
	CommittedID     uint64          `json:"committed_id"`
	Event           json.RawMessage `json:"event"`
	StatusUpdatedAt uint64          `json:"status_updated_at"`
}

// ErrorPayload is the server/client -> peer taxonomy error message.
type ErrorPayload struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
