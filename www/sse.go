package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"phasetrack/engine"
)

const sseKeepalive = 30 * time.Second

// SSEEvent is what a terminal receives on /events.
type SSEEvent struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Data     any    `json:"data"`
}

// EventHub streams engine events to terminals. Each connection subscribes
// to the bus for its own operator only.
type EventHub struct {
	bus  *engine.EventBus
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	conns map[string]int
}

func NewEventHub(bus *engine.EventBus) *EventHub {
	return &EventHub{bus: bus, done: make(chan struct{}), conns: make(map[string]int)}
}

// Close ends every open stream.
func (h *EventHub) Close() {
	h.once.Do(func() { close(h.done) })
}

// Connections returns the number of open streams of operator.
func (h *EventHub) Connections(operator string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[operator]
}

// subscribe returns the operator's event feed. Events are dropped while the
// buffer is full; the terminal reloads /api/state on its next event.
func (h *EventHub) subscribe(operator string) (<-chan SSEEvent, func()) {
	ch := make(chan SSEEvent, 64)
	id := h.bus.SubscribeOperator(operator, func(evt engine.Event) {
		select {
		case ch <- SSEEvent{Type: evt.Type.String(), Operator: evt.Operator, Data: evt.Payload}:
		default:
		}
	})
	h.mu.Lock()
	h.conns[operator]++
	h.mu.Unlock()
	return ch, func() {
		h.bus.Unsubscribe(id)
		h.mu.Lock()
		if h.conns[operator]--; h.conns[operator] <= 0 {
			delete(h.conns, operator)
		}
		h.mu.Unlock()
	}
}

// HandleSSE streams the operator's events, starting with initial as a
// "state" event when it is not nil.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request, operator string, initial any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	events, cancel := h.subscribe(operator)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if initial != nil {
		writeSSE(w, SSEEvent{Type: "state", Operator: operator, Data: initial})
	} else {
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case evt := <-events:
			writeSSE(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt SSEEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
}
