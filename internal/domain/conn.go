// Package domain contains value types without logic beyond validation.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxRoomKeyLen = 64

var ErrInvalidRoomKey = errors.New("invalid room key")

// ConnID is a server-assigned identifier bound to one live session.
type ConnID string

// NewConnID is a tiny helper to keep id generation in one place.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// RoomKey groups connections. It is always derived server-side.
type RoomKey string

func NewRoomKey(raw string) (RoomKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxRoomKeyLen {
		return "", ErrInvalidRoomKey
	}
	return RoomKey(raw), nil
}
