package app

import (
	"sync"

	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog/log"
)

// connEntry is the presence state of one live connection. Its mutex
// serializes the Join and Disconnect transitions of that connection and is
// always taken before any room lock.
type connEntry struct {
	mu    sync.Mutex
	key   domain.RoomKey
	state domain.Membership
	gone  bool
}

type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Bind registers a connection as Unjoined with the room key derived at
// connect time. It returns false if id is already bound.
func (r *Registry) Bind(id domain.ConnID, key domain.RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return false
	}
	r.conns[id] = &connEntry{key: key}
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(key)).Msg("bound connection")
	return true
}

func (r *Registry) lookup(id domain.ConnID) (*connEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	return e, ok
}

func (r *Registry) unbind(id domain.ConnID) (*connEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	}
	return e, ok
}

func (r *Registry) Has(id domain.ConnID) bool {
	_, ok := r.lookup(id)
	return ok
}

// MembershipOf reports the current state of a live connection.
func (r *Registry) MembershipOf(id domain.ConnID) (domain.Membership, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return domain.Unjoined(), false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[domain.ConnID]*connEntry)
}
