package app

import (
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

// SignalKind classifies a relayed payload for logs only. The payload itself
// is never modified.
func SignalKind(raw []byte) string {
	if len(raw) == 0 {
		return "empty"
	}
	var probe struct {
		Type      string          `json:"type"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "opaque"
	}
	switch t := webrtc.NewSDPType(probe.Type); t {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer, webrtc.SDPTypeRollback:
		return t.String()
	}
	if len(probe.Candidate) > 0 && string(probe.Candidate) != "null" {
		return "candidate"
	}
	return "opaque"
}
