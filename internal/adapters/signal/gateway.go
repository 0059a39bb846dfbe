// Package signal is the connection gateway: it accepts websocket sessions,
// assigns connection ids, dispatches inbound events by type and delivers
// outbound events to one connection or to a room.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Options struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	PongWait    time.Duration
	WriteWait   time.Duration
	SendBuffer  int
	Policy      core.Policy
	RateLimiter *RateLimiter
	CheckOrigin func(*http.Request) bool
	RoomKey     KeyFunc
}

// HandlerFunc handles one inbound event. data is the raw JSON "data" member,
// nil when absent.
type HandlerFunc func(id domain.ConnID, data []byte)

type session struct {
	id     domain.ConnID
	key    domain.RoomKey
	client string
	conn   *wsSignalConn
}

type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[domain.ConnID]*session
	groups   map[domain.RoomKey]map[domain.ConnID]struct{}

	hmu          sync.RWMutex
	handlers     map[string]HandlerFunc
	onConnect    []func(domain.ConnID, domain.RoomKey)
	onDisconnect []func(domain.ConnID)

	pumps   conc.WaitGroup
	closing atomic.Bool
}

func NewGateway(opts Options) *Gateway {
	if opts.Policy == nil {
		opts.Policy = core.DropPolicy{}
	}
	if opts.RoomKey == nil {
		opts.RoomKey = KeyFromOrigin
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	g := &Gateway{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		sessions: make(map[domain.ConnID]*session),
		groups:   make(map[domain.RoomKey]map[domain.ConnID]struct{}),
		handlers: make(map[string]HandlerFunc),
	}
	g.OnMessage(domain.EventPing, g.handlePing)
	return g
}

// OnConnect registers a handler run for every accepted session before any
// of its messages is dispatched.
func (g *Gateway) OnConnect(fn func(id domain.ConnID, key domain.RoomKey)) {
	g.hmu.Lock()
	defer g.hmu.Unlock()
	g.onConnect = append(g.onConnect, fn)
}

// OnMessage registers the handler for one inbound event type, replacing any
// previous one.
func (g *Gateway) OnMessage(event string, fn HandlerFunc) {
	g.hmu.Lock()
	defer g.hmu.Unlock()
	g.handlers[event] = fn
}

// OnDisconnect registers a handler run exactly once per session, after the
// session stopped receiving outbound messages.
func (g *Gateway) OnDisconnect(fn func(id domain.ConnID)) {
	g.hmu.Lock()
	defer g.hmu.Unlock()
	g.onDisconnect = append(g.onDisconnect, fn)
}

// HandleSignal upgrades the request and runs the session until it ends.
func (g *Gateway) HandleSignal(ctx context.Context, c *gin.Context) {
	if g.closing.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	key, err := g.opts.RoomKey(c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal.gateway").Str("remote", c.ClientIP()).Msg("rejected connection")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.gateway").Msg("ws upgrade")
		return
	}

	s := &session{
		id:     domain.NewConnID(),
		key:    key,
		client: c.GetString("client_token"),
		conn:   newWsSignalConn(ws, g.opts.SendBuffer),
	}
	g.register(s)
	log.Info().Str("module", "signal.gateway").Str("conn", string(s.id)).Str("room", string(key)).Str("client", s.client).Msg("new WS connection")

	g.Send(s.id, domain.EventConnected, domain.Connected{ID: s.id})
	for _, fn := range g.connectHandlers() {
		g.safeCall("connect", s.id, func() { fn(s.id, s.key) })
	}

	ctx, cancel := context.WithCancel(ctx)
	g.pumps.Go(func() {
		defer cancel()
		g.writePump(ctx, s)
	})
	g.pumps.Go(func() {
		defer cancel()
		g.readPump(s)
	})
}

// Send unicasts event to id. Unknown or closed connections are ignored.
func (g *Gateway) Send(id domain.ConnID, event string, data any) bool {
	frame, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.gateway").Str("event", event).Msg("encode")
		return false
	}
	g.mu.RLock()
	s, ok := g.sessions[id]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return g.deliver(s, frame)
}

// BroadcastToRoom sends event to every live member of room except exclude.
func (g *Gateway) BroadcastToRoom(room domain.RoomKey, event string, data any, exclude domain.ConnID) core.PublishResult {
	res := core.PublishResult{}
	frame, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.gateway").Str("event", event).Msg("encode")
		return res
	}

	g.mu.RLock()
	targets := make([]*session, 0, len(g.groups[room]))
	for id := range g.groups[room] {
		if id == exclude {
			continue
		}
		if s, ok := g.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	g.mu.RUnlock()

	for _, s := range targets {
		if g.deliver(s, frame) {
			res.SendTo++
			continue
		}
		res.Dropped = append(res.Dropped, s.id)
	}
	log.Debug().Str("module", "signal.gateway").Str("room", string(room)).Str("event", event).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (g *Gateway) AddToRoom(id domain.ConnID, room domain.RoomKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[id]; !ok {
		return
	}
	members, ok := g.groups[room]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		g.groups[room] = members
	}
	members[id] = struct{}{}
}

func (g *Gateway) RemoveFromRoom(id domain.ConnID, room domain.RoomKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveGroupLocked(id, room)
}

// Len reports the number of live sessions.
func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Shutdown stops accepting sessions, closes the live ones and waits for
// their pumps to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.closing.Store(true)

	g.mu.RLock()
	live := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		live = append(live, s)
	}
	g.mu.RUnlock()

	for _, s := range live {
		s.conn.Close()
	}
	log.Info().Str("module", "signal.gateway").Int("sessions", len(live)).Msg("closing sessions")

	done := make(chan struct{})
	go func() {
		g.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("gateway drain incomplete"), ctx.Err())
	}
}

func (g *Gateway) deliver(s *session, frame core.Frame) bool {
	err := s.conn.TrySend(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, core.ErrBackpressure) {
		switch g.opts.Policy.OnBackPressure(s.id) {
		case core.KickMember:
			log.Warn().Str("module", "signal.gateway").Str("conn", string(s.id)).Msg("slow consumer kicked")
			s.conn.Close()
		case core.DropFrame:
			log.Warn().Str("module", "signal.gateway").Str("conn", string(s.id)).Msg("slow consumer, frame dropped")
		}
	}
	return false
}

func (g *Gateway) register(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.id] = s
}

func (g *Gateway) unregister(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, s.id)
	g.leaveGroupLocked(s.id, s.key)
}

func (g *Gateway) leaveGroupLocked(id domain.ConnID, room domain.RoomKey) {
	members, ok := g.groups[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(g.groups, room)
	}
}

func (g *Gateway) handler(event string) (HandlerFunc, bool) {
	g.hmu.RLock()
	defer g.hmu.RUnlock()
	h, ok := g.handlers[event]
	return h, ok
}

func (g *Gateway) connectHandlers() []func(domain.ConnID, domain.RoomKey) {
	g.hmu.RLock()
	defer g.hmu.RUnlock()
	return append([]func(domain.ConnID, domain.RoomKey){}, g.onConnect...)
}

func (g *Gateway) disconnectHandlers() []func(domain.ConnID) {
	g.hmu.RLock()
	defer g.hmu.RUnlock()
	return append([]func(domain.ConnID){}, g.onDisconnect...)
}

// safeCall isolates a handler failure to the event that caused it.
func (g *Gateway) safeCall(what string, id domain.ConnID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal.gateway").Str("conn", string(id)).Str("handler", what).Interface("panic", r).Msg("handler panic recovered")
		}
	}()
	fn()
}

func encode(event string, data any) (core.Frame, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{Type: event, Data: data})
}
