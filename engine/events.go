package engine

import (
	"sync"
	"time"

	"phasetrack/multijob"
	"phasetrack/session"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Builder events
	EventBuilderStateChanged EventType = iota + 1
	EventJobListChanged
	EventSessionBlocked
	EventOrphanDetected
	EventSessionSaved

	// Activity events
	EventDeadTimeStarted
	EventDeadTimeStopped
	EventPhaseStarted
	EventPhaseFinished

	// Operator events
	EventOperatorLoggedIn
	EventOperatorLoggedOut
	EventRemoteSessionChanged
)

var eventNames = map[EventType]string{
	EventBuilderStateChanged:  "builder-state",
	EventJobListChanged:       "job-list",
	EventSessionBlocked:       "session-blocked",
	EventOrphanDetected:       "orphan-detected",
	EventSessionSaved:         "session-saved",
	EventDeadTimeStarted:      "dead-time",
	EventDeadTimeStopped:      "dead-time",
	EventPhaseStarted:         "phase",
	EventPhaseFinished:        "phase",
	EventOperatorLoggedIn:     "operator",
	EventOperatorLoggedOut:    "operator",
	EventRemoteSessionChanged: "session-changed",
}

// String returns the SSE event name.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus. Operator is the
// operator the event concerns.
type Event struct {
	Type      EventType
	Operator  string
	Timestamp time.Time
	Payload   any
}

type BuilderStateChangedEvent struct {
	OldState multijob.State `json:"old_state"`
	NewState multijob.State `json:"new_state"`
}

type JobListChangedEvent struct {
	Items int `json:"items"`
}

type SessionBlockedEvent struct {
	Kind session.Kind `json:"kind"`
}

type OrphanDetectedEvent struct {
	StoredItems int `json:"stored_items"`
}

type SessionSavedEvent struct {
	Result multijob.SaveResult `json:"result"`
}

type DeadTimeEvent struct {
	ID   int64  `json:"id"`
	Code string `json:"code,omitempty"`
	Open bool   `json:"open"`
}

type PhaseEvent struct {
	LogID           int64  `json:"log_id"`
	PhaseID         string `json:"phase_id,omitempty"`
	Position        string `json:"position,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Open            bool   `json:"open"`
}

type OperatorEvent struct {
	LoggedIn bool `json:"logged_in"`
}

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

type subscriber struct {
	id       SubscriberID
	fn       SubscriberFunc
	operator string
}

// EventBus provides synchronous event dispatch. Subscribers are called in
// registration order on the emitting goroutine.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	nextID      SubscriberID
	now         func() time.Time
}

func NewEventBus() *EventBus {
	return &EventBus{now: time.Now}
}

// Subscribe registers a callback for every event.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.SubscribeOperator("", fn)
}

// SubscribeOperator registers a callback for one operator's events. An
// empty operator receives everything.
func (eb *EventBus) SubscribeOperator(operator string, fn SubscriberFunc) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subscribers = append(eb.subscribers, subscriber{id: id, fn: fn, operator: operator})
	return id
}

func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s.id == id {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Emit dispatches an event synchronously to all matching subscribers.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eb.now()
	}
	eb.mu.RLock()
	subs := make([]subscriber, len(eb.subscribers))
	copy(subs, eb.subscribers)
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.operator != "" && s.operator != evt.Operator {
			continue
		}
		s.fn(evt)
	}
}
