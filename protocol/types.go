// Package protocol defines the envelopes exchanged between the core server
// and the stations over MQTT or Kafka.
package protocol

// Message type constants.
const (
	// Station -> Core (published on stations topic)
	TypeStationHeartbeat = "station.heartbeat"

	// Core -> Stations (published on events topic)
	TypeSessionChanged = "session.changed"
	TypePhaseFinished  = "phase.finished"
)

// Roles for Address.Role.
const (
	RoleStation = "station"
	RoleCore    = "core"
)

// Protocol version.
const Version = 1
