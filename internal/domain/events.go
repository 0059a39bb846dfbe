package domain

import "encoding/json"

// Event names on the wire.
const (
	EventConnected     = "connected"
	EventJoinRoom      = "join-room"
	EventExistingUsers = "existing-users"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventSignal        = "signal"
	EventPing          = "ping"
	EventPong          = "pong"
)

// Envelope is every frame exchanged over the gateway.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Connected struct {
	ID ConnID `json:"id"`
}

// ExistingUsers is the membership snapshot sent to a joiner.
type ExistingUsers map[ConnID]UserDescriptor

type UserJoined struct {
	ID   ConnID         `json:"id"`
	User UserDescriptor `json:"user"`
}

// SignalRequest is what a client sends, SignalRelay what the target receives.
type SignalRequest struct {
	To     ConnID          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type SignalRelay struct {
	From   ConnID          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}
