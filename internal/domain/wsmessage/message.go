// Package wsmessage defines the outbox entity and the inbound/outbound
// wire frames used by the WebSocket hub and dispatcher.
package wsmessage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RecipientKind discriminates the tagged union stored in Outbox.Recipient.
type RecipientKind string

const (
	RecipientUser RecipientKind = "user"
	RecipientAll  RecipientKind = "all"
)

// Recipient is the JSON tagged union `{type:"user",user_id}` / `{type:"all"}`
// recorded on every outbox row.
type Recipient struct {
	Type   RecipientKind `json:"type"`
	UserID string        `json:"user_id,omitempty"`
}

// Outbox is a row in the websocket_message table: a durable fan-out buffer
// between a producer's transaction and the dispatcher.
type Outbox struct {
	ID        uuid.UUID
	Recipient Recipient
	Payload   json.RawMessage
	CreatedAt time.Time
}

// FrameType discriminates the tagged-union Frame exchanged over the socket.
type FrameType string

const (
	FrameRequest   FrameType = "request"
	FrameResponse  FrameType = "response"
	FrameBroadcast FrameType = "broadcast"
	FrameError     FrameType = "error"
)

// RequestKind discriminates an inbound Request payload.
type RequestKind string

const (
	RequestVersion     RequestKind = "version"
	RequestApplication RequestKind = "application"
)

// Frame is the envelope carried over an open connection in both
// directions. Only the fields relevant to FrameType are populated.
type Frame struct {
	Type        FrameType       `json:"type"`
	ID          string          `json:"id,omitempty"`
	RequestKind RequestKind     `json:"request_kind,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Message     string          `json:"message,omitempty"`
}
