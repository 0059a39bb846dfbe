package signal

import (
	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Bind routes gateway events into the presence engine.
func Bind(g *Gateway, e *app.Engine) {
	g.OnConnect(e.Connect)
	g.OnMessage(domain.EventJoinRoom, func(id domain.ConnID, data []byte) {
		e.Join(id, domain.UserDescriptor(data))
	})
	g.OnMessage(domain.EventSignal, func(id domain.ConnID, data []byte) {
		var req domain.SignalRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad signal payload")
			return
		}
		e.Signal(id, req)
	})
	g.OnDisconnect(e.Disconnect)
}
