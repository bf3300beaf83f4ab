package store

import (
	"fmt"
	"time"
)

// OutboxEvent is an encoded event envelope queued in the same database as
// the state it describes. The drainer publishes it and marks it sent.
type OutboxEvent struct {
	ID        int64
	Topic     string
	EventType string
	Source    string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    *time.Time
}

const outboxSelectCols = `id, topic, event_type, source, payload, attempts, last_error, created_at, sent_at`

func scanOutboxEvent(row interface{ Scan(...any) error }) (*OutboxEvent, error) {
	var ev OutboxEvent
	var created, sent any
	err := row.Scan(&ev.ID, &ev.Topic, &ev.EventType, &ev.Source, &ev.Payload, &ev.Attempts, &ev.LastError, &created, &sent)
	if err != nil {
		return nil, err
	}
	ev.CreatedAt = parseTime(created)
	ev.SentAt = parseTimePtr(sent)
	return &ev, nil
}

// EnqueueEvent queues an event for publishing and returns its ID.
func (db *DB) EnqueueEvent(topic, eventType, source string, payload []byte) (int64, error) {
	id, err := db.insertID(db, `INSERT INTO outbox (topic, event_type, source, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		topic, eventType, source, payload, db.ts(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return id, nil
}

// PendingEvents returns up to limit unsent events, oldest first. Events
// that already failed maxAttempts times are left in the table untouched.
func (db *DB) PendingEvents(limit, maxAttempts int) ([]OutboxEvent, error) {
	rows, err := db.Query(db.Q(`SELECT `+outboxSelectCols+` FROM outbox WHERE sent_at IS NULL AND attempts < ? ORDER BY id LIMIT ?`),
		maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()
	var out []OutboxEvent
	for rows.Next() {
		ev, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// GetEvent loads one outbox event.
func (db *DB) GetEvent(id int64) (*OutboxEvent, error) {
	ev, err := scanOutboxEvent(db.QueryRow(db.Q(`SELECT `+outboxSelectCols+` FROM outbox WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("outbox event %d", id))
	}
	return ev, nil
}

// MarkEventSent records that an event was published.
func (db *DB) MarkEventSent(id int64) error {
	res, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=?, last_error='' WHERE id=? AND sent_at IS NULL`), db.ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark event %d sent: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark event %d sent: %w", id, ErrNotFound)
	}
	return nil
}

// RecordEventFailure counts a failed publish and keeps its cause.
func (db *DB) RecordEventFailure(id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := db.Exec(db.Q(`UPDATE outbox SET attempts=attempts+1, last_error=? WHERE id=?`), msg, id)
	return err
}
