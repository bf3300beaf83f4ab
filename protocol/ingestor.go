package protocol

import (
	"encoding/json"
	"log"
	"time"
)

// FilterFunc decides from the header alone whether a message is processed.
type FilterFunc func(hdr *Header) bool

// MessageHandler receives decoded messages. Embed NoOpHandler and override
// the methods of interest.
type MessageHandler interface {
	HandleStationHeartbeat(env *Envelope, p *StationHeartbeat)
	HandleSessionChanged(env *Envelope, p *SessionChanged)
	HandlePhaseFinished(env *Envelope, p *PhaseFinished)
}

// Ingestor decodes raw messages in two steps (header, then payload) and
// dispatches them by type.
type Ingestor struct {
	filter   FilterFunc
	dispatch map[string]func(*Envelope)
	now      func() time.Time
}

func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{
		filter: filter,
		now:    time.Now,
		dispatch: map[string]func(*Envelope){
			TypeStationHeartbeat: bind(handler.HandleStationHeartbeat),
			TypeSessionChanged:   bind(handler.HandleSessionChanged),
			TypePhaseFinished:    bind(handler.HandlePhaseFinished),
		},
	}
}

// HandleRaw consumes one message as delivered by the messaging client.
// Undecodable, expired, filtered and unknown messages are dropped.
func (ing *Ingestor) HandleRaw(data []byte) {
	var hdr Header
	if err := json.Unmarshal(data, &hdr); err != nil {
		log.Printf("protocol: header decode error: %v", err)
		return
	}
	if hdr.Expired(ing.now()) {
		log.Printf("protocol: dropping expired %s %s from %s", hdr.Type, hdr.ID, hdr.Src)
		return
	}
	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}
	fn, ok := ing.dispatch[hdr.Type]
	if !ok {
		log.Printf("protocol: unknown message type %q from %s", hdr.Type, hdr.Src)
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("protocol: envelope decode error: %v", err)
		return
	}
	fn(&env)
}

func bind[T any](fn func(*Envelope, *T)) func(*Envelope) {
	return func(env *Envelope) {
		var p T
		if err := env.DecodePayload(&p); err != nil {
			log.Printf("protocol: %v", err)
			return
		}
		fn(env, &p)
	}
}

// ForRole accepts messages addressed to role, either broadcast or to node.
func ForRole(role, node string) FilterFunc {
	return func(hdr *Header) bool {
		return hdr.Dst.Role == role && (hdr.Dst.Node == "" || hdr.Dst.Node == node)
	}
}
