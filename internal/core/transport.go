package core

import (
	"errors"

	"github.com/dkeye/Rendezvous/internal/domain"
)

//go:generate mockgen -source=transport.go -destination=mocks/transport_mock.go -package=mocks

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats of a room broadcast.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// Transport is the outbound side of the connection gateway as seen by the
// presence engine. Every method is best-effort and must not block on I/O.
type Transport interface {
	// Send unicasts to one connection. Unknown connections are ignored.
	Send(id domain.ConnID, event string, data any) bool
	// BroadcastToRoom fans out to every live member of room except exclude.
	BroadcastToRoom(room domain.RoomKey, event string, data any, exclude domain.ConnID) PublishResult
	// AddToRoom and RemoveFromRoom maintain the broadcast groups.
	AddToRoom(id domain.ConnID, room domain.RoomKey)
	RemoveFromRoom(id domain.ConnID, room domain.RoomKey)
}
