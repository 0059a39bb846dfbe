package core

import (
	"maps"
	"sync"

	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog/log"
)

// Room is a threadsafe in-memory membership map: connection -> user descriptor.
// A room that lost its last member is retired and never admits again,
// callers must fetch a fresh one from the RoomSet.
//
// The notify callbacks passed to Admit and Depart run while the room is
// locked, so every member observes mutations in the order they happened.
// They must not call back into the room.
type Room struct {
	key     domain.RoomKey
	mu      sync.Mutex
	members map[domain.ConnID]domain.UserDescriptor
	retired bool
}

func NewRoom(key domain.RoomKey) *Room {
	return &Room{
		key:     key,
		members: make(map[domain.ConnID]domain.UserDescriptor),
	}
}

func (r *Room) Key() domain.RoomKey { return r.key }

// Admit records id -> user. notify receives the membership as it was right
// before the insert, so it never contains id itself. Admit returns false if
// the room is retired.
func (r *Room) Admit(id domain.ConnID, user domain.UserDescriptor, notify func(existing domain.ExistingUsers)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	snapshot := make(domain.ExistingUsers, len(r.members))
	maps.Copy(snapshot, r.members)
	delete(snapshot, id)

	r.members[id] = user
	log.Info().Str("module", "core.room").Str("room", string(r.key)).Str("conn", string(id)).Int("members", len(r.members)).Msg("member added")
	if notify != nil {
		notify(snapshot)
	}
	return true
}

// Depart removes id. notify runs only if id was a member. When the room
// becomes empty it is retired and empty is true.
func (r *Room) Depart(id domain.ConnID, notify func()) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false, len(r.members) == 0
	}
	delete(r.members, id)
	log.Info().Str("module", "core.room").Str("room", string(r.key)).Str("conn", string(id)).Int("members", len(r.members)).Msg("member removed")
	if notify != nil {
		notify()
	}
	if len(r.members) == 0 {
		r.retired = true
		return true, true
	}
	return true, false
}

func (r *Room) Snapshot() domain.ExistingUsers {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(domain.ExistingUsers, len(r.members))
	maps.Copy(out, r.members)
	return out
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Has(id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	return ok
}

func (r *Room) Retired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retired
}
