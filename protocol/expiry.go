package protocol

import "time"

// Heartbeats go stale quickly; finished phases stay useful to late
// subscribers for an hour.
var ttls = map[string]time.Duration{
	TypeStationHeartbeat: 90 * time.Second,
	TypeSessionChanged:   2 * time.Minute,
	TypePhaseFinished:    time.Hour,
}

// FallbackTTL applies to message types without their own TTL.
const FallbackTTL = 10 * time.Minute

// TTL returns how long a message of the given type stays deliverable.
func TTL(msgType string) time.Duration {
	if ttl, ok := ttls[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}
