package messaging

import (
	"log"
	"os"
	"sync"
	"time"

	"phasetrack/protocol"
)

// Heartbeater sends station.heartbeat on startup and then periodically.
type Heartbeater struct {
	pub       Publisher
	nodeID    string
	line      string
	version   string
	topic     string
	interval  time.Duration
	operators func() []string
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHeartbeater creates a heartbeater for the given station identity.
// operators reports who is signed in at the station.
func NewHeartbeater(pub Publisher, nodeID, line, version, topic string, interval time.Duration, operators func() []string) *Heartbeater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeater{
		pub:       pub,
		nodeID:    nodeID,
		line:      line,
		version:   version,
		topic:     topic,
		interval:  interval,
		operators: operators,
		stopCh:    make(chan struct{}),
	}
}

// Start sends an initial heartbeat and begins the loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) send() {
	hostname, _ := os.Hostname()
	var ops []string
	if h.operators != nil {
		ops = h.operators()
	}
	env, err := protocol.NewEnvelope(protocol.TypeStationHeartbeat,
		protocol.Address{Role: protocol.RoleStation, Node: h.nodeID},
		protocol.Address{Role: protocol.RoleCore},
		&protocol.StationHeartbeat{
			NodeID:    h.nodeID,
			Line:      h.line,
			Hostname:  hostname,
			Version:   h.version,
			Operators: ops,
			Uptime:    int64(time.Since(h.startTime).Seconds()),
		},
	)
	if err != nil {
		log.Printf("heartbeater: build heartbeat: %v", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("heartbeater: encode heartbeat: %v", err)
		return
	}
	if err := h.pub.Publish(h.topic, data); err != nil {
		log.Printf("heartbeater: send heartbeat: %v", err)
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
