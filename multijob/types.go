// Package multijob runs the multi-job builder: an operator collects several
// (sheet, phase) picks, times them as one session, and on stop the elapsed
// time is split back into one phase log per pick.
package multijob

import (
	"errors"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

// State is a builder state.
type State string

// Builder states
const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StatePickPhase State = "pick_phase"
	StateBuild     State = "build"
	StateRunning   State = "running"
	StateSaving    State = "saving"
)

// MinJobs is the smallest job list a multi-job session may run with.
const MinJobs = 2

var (
	ErrTooFewJobs           = errors.New("a multi-job session needs at least two jobs")
	ErrInvalidState         = errors.New("operation not allowed in current state")
	ErrAlreadyPicked        = errors.New("phase already picked for this sheet")
	ErrCancelledByUser      = errors.New("cancelled by operator")
	ErrSessionUnrecoverable = errors.New("running session has too few stored jobs to resume")
	ErrNoOrphan             = errors.New("no orphaned session to resolve")
)

// EligiblePhase is a phase of the scanned sheet that can still be picked.
type EligiblePhase struct {
	production.PhaseDefinition
	Remaining int `json:"remaining"`
}

// Orphan is a running multi-job session whose stored job list is too short
// to resume. Only the operator can decide what happens to it.
type Orphan struct {
	Session *session.LiveSession `json:"session"`
	Items   []production.JobItem `json:"items"`
}

// Snapshot is a point-in-time copy of a builder for display.
type Snapshot struct {
	Operator       string                      `json:"operator"`
	State          State                       `json:"state"`
	Items          []production.JobItem        `json:"items"`
	Sheet          *production.ProductionSheet `json:"sheet,omitempty"`
	Eligible       []EligiblePhase             `json:"eligible,omitempty"`
	StartedAt      *time.Time                  `json:"started_at,omitempty"`
	ElapsedSeconds int64                       `json:"elapsed_seconds"`
	Remaining      []int                       `json:"remaining,omitempty"`
	Blocked        *session.LiveSession        `json:"blocked,omitempty"`
	Orphan         *Orphan                     `json:"orphan,omitempty"`
}

// SaveResult describes the logs written when a session was stopped.
type SaveResult struct {
	TotalSeconds int64   `json:"total_seconds"`
	LogIDs       []int64 `json:"log_ids"`
	Durations    []int64 `json:"durations"`
	Quantities   []int   `json:"quantities"`
}
