// Package session models an operator's live work activity and the rule
// that only one of them may be open at a time.
package session

import (
	"time"

	"phasetrack/production"
)

// Kind discriminates the LiveSession variants.
type Kind string

const (
	KindDeadTime Kind = "dead_time"
	KindSingle   Kind = "single"
	KindMulti    Kind = "multi"
)

// StatusMulti is the discriminator the backend uses for multi-job entries in
// LiveStatus.Active. Any other status is a single-phase session.
const StatusMulti = "multi"

// LiveSession is the one open activity of an operator. Exactly one of
// DeadTime, Single and Multi is set, matching Kind.
type LiveSession struct {
	Kind           Kind      `json:"kind"`
	Operator       string    `json:"operator"`
	RunningSeconds int64     `json:"running_seconds"`
	StartTime      time.Time `json:"start_time"`

	DeadTime *DeadTime    `json:"dead_time,omitempty"`
	Single   *SinglePhase `json:"single,omitempty"`
	Multi    *MultiJob    `json:"multi,omitempty"`
}

// DeadTime is categorized non-productive time.
type DeadTime struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Linkage     string `json:"linkage"`
}

// SinglePhase is one operator working one phase of one sheet.
type SinglePhase struct {
	SheetID  int64            `json:"sheet_id"`
	QRCode   string           `json:"qr_code,omitempty"`
	PhaseID  string           `json:"phase_id"`
	Position string           `json:"position"`
	Stage    production.Stage `json:"stage"`
}

// MultiJob is one timed session spanning several picks.
type MultiJob struct {
	Jobs []production.JobItem `json:"jobs"`
}

// ActiveEntry is a running phase session as reported by the live status.
type ActiveEntry struct {
	Username       string           `json:"username"`
	Status         string           `json:"status"`
	SheetID        int64            `json:"sheet_id"`
	QRCode         string           `json:"qr_code,omitempty"`
	PhaseID        string           `json:"phase_id"`
	Position       string           `json:"position"`
	Stage          production.Stage `json:"stage"`
	RunningSeconds int64            `json:"running_seconds"`
	StartTime      time.Time        `json:"start_time"`
}

// IsMulti reports whether the entry is a multi-job session.
func (e ActiveEntry) IsMulti() bool { return e.Status == StatusMulti }

// DeadEntry is an open dead-time record as reported by the live status.
type DeadEntry struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Code           string    `json:"code"`
	Description    string    `json:"description"`
	Linkage        string    `json:"linkage"`
	RunningSeconds int64     `json:"running_seconds"`
	StartTime      time.Time `json:"start_time"`
}

// LiveStatus is the authoritative snapshot of who is doing what.
// ServerTime is the backend clock at the moment of the read.
type LiveStatus struct {
	Active     []ActiveEntry `json:"active"`
	Dead       []DeadEntry   `json:"dead"`
	Idle       []string      `json:"idle"`
	ServerTime time.Time     `json:"server_time"`
}

// For returns the operator's open session, or nil when the operator is idle.
// An open dead time takes precedence over a phase session.
func (s *LiveStatus) For(operator string) *LiveSession {
	if s == nil {
		return nil
	}
	for _, d := range s.Dead {
		if d.Username != operator {
			continue
		}
		return &LiveSession{
			Kind:           KindDeadTime,
			Operator:       operator,
			RunningSeconds: d.RunningSeconds,
			StartTime:      d.StartTime,
			DeadTime:       &DeadTime{ID: d.ID, Code: d.Code, Description: d.Description, Linkage: d.Linkage},
		}
	}
	for _, a := range s.Active {
		if a.Username != operator {
			continue
		}
		ls := &LiveSession{
			Operator:       operator,
			RunningSeconds: a.RunningSeconds,
			StartTime:      a.StartTime,
		}
		if a.IsMulti() {
			ls.Kind = KindMulti
			ls.Multi = &MultiJob{}
		} else {
			ls.Kind = KindSingle
			ls.Single = &SinglePhase{SheetID: a.SheetID, QRCode: a.QRCode, PhaseID: a.PhaseID, Position: a.Position, Stage: a.Stage}
		}
		return ls
	}
	return nil
}

// ActivePhase is the answer of the secondary single-phase check: the
// operator's open phase log, if any.
type ActivePhase struct {
	Active *production.PhaseLog `json:"active"`
}
