package ws

import (
	"encoding/json"
	"time"
)

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "rooms/chat"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// ChatRequest is the body for "rooms/chat".
type ChatRequest struct {
	Text string `json:"text"`
}

// ChatAck confirms a broadcast back to its sender with the assigned sequence
// number; the sender additionally receives the full echo frame in order.
type ChatAck struct {
	Seq uint64 `json:"seq"`
}

// ChatFrame is the "rooms/chat" broadcast payload delivered to every live
// connection of a room, in sequence order.
type ChatFrame struct {
	Seq      uint64    `json:"seq"`
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// PresenceFrame is the "rooms/presence" payload emitted on every join/leave.
type PresenceFrame struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Event  string `json:"event"` // "joined" | "left"
}

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// PresenceRecord is the merged view of a room member: durable metadata from
// the membership store plus the live flag owned by this layer.
type PresenceRecord struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	IsLive      bool      `json:"is_live"`
}

// Empty ACK body (useful for many handlers).
type AckBody struct{}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

const (
	eventChat             = "rooms/chat"
	eventPresence         = "rooms/presence"
	eventPresenceSnapshot = "rooms/snapshot"
)

func marshalEnvelope(event string, body any) []byte {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(Envelope{Event: event, Body: raw})
	if err != nil {
		return nil
	}
	return out
}
