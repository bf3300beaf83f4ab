package messaging

import (
	"log"
	"sync"
	"time"

	"phasetrack/store"
)

// maxPublishAttempts is how often an event is tried before it is parked.
const maxPublishAttempts = 20

// OutboxStore is the part of the store the drainer needs.
type OutboxStore interface {
	PendingEvents(limit, maxAttempts int) ([]store.OutboxEvent, error)
	MarkEventSent(id int64) error
	RecordEventFailure(id int64, cause error) error
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db       OutboxStore
	pub      Publisher
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewOutboxDrainer(db OutboxStore, pub Publisher, interval time.Duration) *OutboxDrainer {
	return &OutboxDrainer{
		db:       db,
		pub:      pub,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	go d.run()
}

func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *OutboxDrainer) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.Drain()
		}
	}
}

// Drain publishes one batch of pending messages. It returns how many were sent.
func (d *OutboxDrainer) Drain() int {
	events, err := d.db.PendingEvents(50, maxPublishAttempts)
	if err != nil {
		log.Printf("outbox: %v", err)
		return 0
	}
	sent := 0
	for _, ev := range events {
		if err := d.pub.Publish(ev.Topic, ev.Payload); err != nil {
			log.Printf("outbox: publish %s to %s failed (attempt %d): %v", ev.EventType, ev.Topic, ev.Attempts+1, err)
			if err := d.db.RecordEventFailure(ev.ID, err); err != nil {
				log.Printf("outbox: record failure of event %d: %v", ev.ID, err)
			}
			continue
		}
		if err := d.db.MarkEventSent(ev.ID); err != nil {
			log.Printf("outbox: %v", err)
			continue
		}
		sent++
	}
	return sent
}
