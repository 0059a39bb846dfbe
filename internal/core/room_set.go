package core

import (
	"sync"

	"github.com/dkeye/Rendezvous/internal/domain"
)

type RoomInfo struct {
	Key         domain.RoomKey `json:"key"`
	MemberCount int            `json:"member_count"`
}

// RoomSet is the process-wide room key -> Room index. Rooms are created
// lazily and forgotten once retired. RoomSet never takes a room lock
// while holding its own.
type RoomSet struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]*Room
}

func NewRoomSet() *RoomSet {
	return &RoomSet{rooms: make(map[domain.RoomKey]*Room)}
}

func (s *RoomSet) GetOrCreate(key domain.RoomKey) *Room {
	s.mu.RLock()
	room, ok := s.rooms[key]
	s.mu.RUnlock()
	if ok {
		return room
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok = s.rooms[key]; ok {
		return room
	}
	room = NewRoom(key)
	s.rooms[key] = room
	return room
}

func (s *RoomSet) Get(key domain.RoomKey) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[key]
	return room, ok
}

// Forget drops room from the index unless it was already replaced.
func (s *RoomSet) Forget(room *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rooms[room.Key()]; ok && cur == room {
		delete(s.rooms, room.Key())
	}
}

func (s *RoomSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *RoomSet) List() []RoomInfo {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomInfo{Key: r.Key(), MemberCount: r.MemberCount()})
	}
	return out
}

func (s *RoomSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[domain.RoomKey]*Room)
}
