package protocol

import "time"

// StationHeartbeat is sent periodically by a station.
type StationHeartbeat struct {
	NodeID    string   `json:"node_id"`
	Line      string   `json:"line"`
	Hostname  string   `json:"hostname"`
	Version   string   `json:"version"`
	Operators []string `json:"operators"`
	Uptime    int64    `json:"uptime_s"`
}

// SessionChanged tells stations that an operator's live session was opened
// or closed. It is a hint to re-read the live status, never the status itself.
type SessionChanged struct {
	Username string    `json:"username"`
	Kind     string    `json:"kind"`
	Open     bool      `json:"open"`
	At       time.Time `json:"at"`
}

// PhaseFinished reports a closed phase log.
type PhaseFinished struct {
	LogID           int64     `json:"log_id"`
	SheetID         int64     `json:"sheet_id"`
	PhaseID         string    `json:"phase_id"`
	Position        string    `json:"position"`
	Operator        string    `json:"operator"`
	Stage           string    `json:"stage"`
	QuantityDone    int       `json:"quantity_done"`
	DurationSeconds int64     `json:"duration_seconds"`
	EndTime         time.Time `json:"end_time"`
}
