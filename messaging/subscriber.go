package messaging

import (
	"phasetrack/protocol"
)

// Subscriber is the subscribing half of a Client.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// StationHandler routes core events to a station. Only session.changed is
// acted upon; the callback receives the operator whose session changed.
type StationHandler struct {
	protocol.NoOpHandler
	onSessionChanged func(username string)
}

// NewStationHandler creates a handler calling onSessionChanged for every
// session.changed hint.
func NewStationHandler(onSessionChanged func(username string)) *StationHandler {
	return &StationHandler{onSessionChanged: onSessionChanged}
}

func (h *StationHandler) HandleSessionChanged(env *protocol.Envelope, p *protocol.SessionChanged) {
	if h.onSessionChanged != nil && p.Username != "" {
		h.onSessionChanged(p.Username)
	}
}

// Listen subscribes handler to topic for messages addressed to role/node.
func Listen(sub Subscriber, topic, role, node string, handler protocol.MessageHandler) error {
	ing := protocol.NewIngestor(handler, protocol.ForRole(role, node))
	return sub.Subscribe(topic, ing.HandleRaw)
}
