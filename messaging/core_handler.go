package messaging

import (
	"log"
	"sync"
	"time"

	"phasetrack/protocol"
)

// staleStationAfter is how long a station may stay silent before it is
// marked stale.
const staleStationAfter = 3 * time.Minute

// StationStore is the part of the store the core handler needs.
type StationStore interface {
	UpsertStation(nodeID, line, hostname, version string, operators []string, at time.Time) error
	MarkStaleStations(now time.Time, threshold time.Duration) (int64, error)
}

// CoreHandler handles inbound station messages on the stations topic.
type CoreHandler struct {
	protocol.NoOpHandler

	db  StationStore
	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCoreHandler creates a handler for inbound station messages.
func NewCoreHandler(db StationStore) *CoreHandler {
	return &CoreHandler{db: db, now: time.Now, stopCh: make(chan struct{})}
}

// Start begins the stale-station detection goroutine.
func (h *CoreHandler) Start() {
	go h.staleStationLoop()
}

// Stop halts the stale-station detection goroutine.
func (h *CoreHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *CoreHandler) HandleStationHeartbeat(env *protocol.Envelope, p *protocol.StationHeartbeat) {
	nodeID := p.NodeID
	if nodeID == "" {
		nodeID = env.Src.Node
	}
	if nodeID == "" {
		log.Printf("core_handler: heartbeat %s without node id", env.ID)
		return
	}
	if err := h.db.UpsertStation(nodeID, p.Line, p.Hostname, p.Version, p.Operators, h.now()); err != nil {
		log.Printf("core_handler: station heartbeat %s: %v", nodeID, err)
	}
}

func (h *CoreHandler) staleStationLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			n, err := h.db.MarkStaleStations(h.now(), staleStationAfter)
			if err != nil {
				log.Printf("core_handler: mark stale stations: %v", err)
			} else if n > 0 {
				log.Printf("core_handler: marked %d station(s) stale", n)
			}
		}
	}
}
