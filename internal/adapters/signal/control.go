package signal

import "github.com/dkeye/Rendezvous/internal/domain"

func (g *Gateway) handlePing(id domain.ConnID, _ []byte) {
	g.Send(id, domain.EventPong, nil)
}
