package messaging

import (
	"log"
	"time"

	"phasetrack/production"
	"phasetrack/protocol"
	"phasetrack/session"
)

// OutboxWriter is the part of the store the emitter needs.
type OutboxWriter interface {
	EnqueueEvent(topic, eventType, source string, payload []byte) (int64, error)
}

// OutboxEmitter turns core events into envelopes in the transactional
// outbox. The drainer publishes them.
type OutboxEmitter struct {
	db     OutboxWriter
	topic  string
	nodeID string
	now    func() time.Time
}

func NewOutboxEmitter(db OutboxWriter, topic, nodeID string) *OutboxEmitter {
	return &OutboxEmitter{db: db, topic: topic, nodeID: nodeID, now: time.Now}
}

// EmitSessionChanged enqueues a session.changed hint for all stations.
func (e *OutboxEmitter) EmitSessionChanged(username string, kind session.Kind, open bool) {
	e.enqueue(protocol.TypeSessionChanged, &protocol.SessionChanged{
		Username: username,
		Kind:     string(kind),
		Open:     open,
		At:       e.now().UTC(),
	})
}

// EmitPhaseFinished enqueues a phase.finished report.
func (e *OutboxEmitter) EmitPhaseFinished(l production.PhaseLog, durationSeconds int64) {
	p := &protocol.PhaseFinished{
		LogID:           l.ID,
		SheetID:         l.SheetID,
		PhaseID:         l.PhaseID,
		Position:        l.Position,
		Operator:        l.Operator,
		Stage:           string(l.Stage),
		QuantityDone:    l.QuantityDone,
		DurationSeconds: durationSeconds,
	}
	if l.EndTime != nil {
		p.EndTime = *l.EndTime
	}
	e.enqueue(protocol.TypePhaseFinished, p)
}

func (e *OutboxEmitter) enqueue(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType,
		protocol.Address{Role: protocol.RoleCore, Node: e.nodeID},
		protocol.Address{Role: protocol.RoleStation},
		payload,
	)
	if err != nil {
		log.Printf("outbox: build %s: %v", msgType, err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("outbox: encode %s: %v", msgType, err)
		return
	}
	if _, err := e.db.EnqueueEvent(e.topic, msgType, e.nodeID, data); err != nil {
		log.Printf("outbox: %v", err)
	}
}
