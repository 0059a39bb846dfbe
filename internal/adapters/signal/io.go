package signal

import (
	"context"
	"time"

	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (g *Gateway) writePump(ctx context.Context, s *session) {
	ticker := time.NewTicker(g.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	ws := s.conn.ws
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(s.id)).Msg("writePump ctx done")
			return
		case data, ok := <-s.conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(s *session) {
	defer g.finish(s)

	ws := s.conn.ws
	ws.SetReadLimit(g.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("readPump read error")
			}
			return
		}
		if g.opts.RateLimiter != nil && !g.opts.RateLimiter.Allow(s.id) {
			log.Warn().Str("module", "signal").Str("conn", string(s.id)).Msg("rate limit exceeded, message dropped")
			continue
		}
		g.dispatch(s, data)
	}
}

func (g *Gateway) dispatch(s *session, raw []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("bad json")
		return
	}
	h, ok := g.handler(env.Type)
	if !ok {
		log.Warn().Str("module", "signal").Str("conn", string(s.id)).Str("type", env.Type).Msg("unknown signal")
		return
	}
	g.safeCall(env.Type, s.id, func() { h(s.id, env.Data) })
}

// finish ends a session: outbound delivery stops first, then the
// disconnect handlers run.
func (g *Gateway) finish(s *session) {
	g.unregister(s)
	s.conn.Close()
	if g.opts.RateLimiter != nil {
		g.opts.RateLimiter.Forget(s.id)
	}
	for _, fn := range g.disconnectHandlers() {
		g.safeCall("disconnect", s.id, func() { fn(s.id) })
	}
	log.Info().Str("module", "signal.gateway").Str("conn", string(s.id)).Msg("connection closed")
}
