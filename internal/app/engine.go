// Package app holds the presence and relay engine: which connection is in
// which room, and how join, signal and disconnect events are routed.
package app

import (
	"sync/atomic"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog/log"
)

// Engine owns the process-wide room state. Create it at process start and
// Close it at shutdown.
//
// Lock order: connection entry, then room. Every membership mutation and the
// notifications it causes happen inside one room critical section.
type Engine struct {
	registry *Registry
	rooms    *core.RoomSet
	out      core.Transport
	closed   atomic.Bool
}

func NewEngine(out core.Transport) *Engine {
	return &Engine{
		registry: NewRegistry(),
		rooms:    core.NewRoomSet(),
		out:      out,
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// Connect records a new connection as Unjoined.
func (e *Engine) Connect(id domain.ConnID, key domain.RoomKey) {
	if e.closed.Load() {
		return
	}
	if !e.registry.Bind(id, key) {
		log.Warn().Str("module", "app.engine").Str("conn", string(id)).Msg("connection already bound")
	}
}

// Join admits id into the room derived for it at connect time. A falsy
// descriptor, an unknown connection and a repeated join are ignored.
func (e *Engine) Join(id domain.ConnID, user domain.UserDescriptor) bool {
	if user.IsFalsy() {
		log.Debug().Str("module", "app.engine").Str("conn", string(id)).Msg("join without user ignored")
		return false
	}
	entry, ok := e.registry.lookup(id)
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.gone {
		return false
	}
	if room, joined := entry.state.Room(); joined {
		log.Info().Str("module", "app.engine").Str("conn", string(id)).Str("room", string(room)).Msg("repeated join ignored")
		return false
	}

	key := entry.key
	user = user.Clone()
	for {
		room := e.rooms.GetOrCreate(key)
		admitted := room.Admit(id, user, func(existing domain.ExistingUsers) {
			e.out.AddToRoom(id, key)
			e.out.Send(id, domain.EventExistingUsers, existing)
			res := e.out.BroadcastToRoom(key, domain.EventUserJoined, domain.UserJoined{ID: id, User: user}, id)
			log.Debug().Str("module", "app.engine").Str("room", string(key)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("user-joined broadcast")
		})
		if admitted {
			break
		}
		// Lost a race with the last member leaving; that room is retired.
		e.rooms.Forget(room)
	}
	entry.state = domain.JoinedTo(key)
	log.Info().Str("module", "app.engine").Str("conn", string(id)).Str("room", string(key)).Msg("joined")
	return true
}

// Signal relays an opaque payload to req.To. There is no membership check;
// a gone or unknown target drops the message silently.
func (e *Engine) Signal(from domain.ConnID, req domain.SignalRequest) bool {
	logger := log.With().Str("module", "app.engine").Str("from", string(from)).Str("to", string(req.To)).Logger()
	if req.To == "" || !e.registry.Has(req.To) {
		logger.Debug().Msg("signal target gone, dropped")
		return false
	}
	ok := e.out.Send(req.To, domain.EventSignal, domain.SignalRelay{From: from, Signal: req.Signal})
	logger.Debug().Str("kind", SignalKind(req.Signal)).Bool("delivered", ok).Msg("signal relayed")
	return ok
}

// Disconnect removes id from its room, if any, and tells the remaining
// members. Calling it for an unknown connection is a no-op.
func (e *Engine) Disconnect(id domain.ConnID) {
	entry, ok := e.registry.unbind(id)
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.gone = true
	key, joined := entry.state.Room()
	if !joined {
		return
	}
	entry.state = domain.Unjoined()

	room, ok := e.rooms.Get(key)
	if !ok {
		log.Warn().Str("module", "app.engine").Str("conn", string(id)).Str("room", string(key)).Msg("joined room missing on disconnect")
		return
	}
	_, empty := room.Depart(id, func() {
		e.out.RemoveFromRoom(id, key)
		e.out.BroadcastToRoom(key, domain.EventUserLeft, id, id)
	})
	if empty {
		e.rooms.Forget(room)
		log.Info().Str("module", "app.engine").Str("room", string(key)).Msg("room removed")
	}
	log.Info().Str("module", "app.engine").Str("conn", string(id)).Str("room", string(key)).Msg("left")
}

// Members returns the current membership of a room.
func (e *Engine) Members(key domain.RoomKey) domain.ExistingUsers {
	room, ok := e.rooms.Get(key)
	if !ok {
		return domain.ExistingUsers{}
	}
	return room.Snapshot()
}

func (e *Engine) Rooms() []core.RoomInfo { return e.rooms.List() }

func (e *Engine) RoomCount() int { return e.rooms.Len() }

// Close drops all presence state. Later events are ignored.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.rooms.Clear()
	e.registry.clear()
	log.Info().Str("module", "app.engine").Msg("engine closed")
}
