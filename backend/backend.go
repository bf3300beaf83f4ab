// Package backend is the station's view of the phase tracking server: the
// operations the session logic consumes, and an HTTP client implementing
// them against the core API.
package backend

import (
	"context"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

// Backend is the server contract. Calls act on behalf of the logged-in
// operator; the "My" operations are scoped to that identity.
type Backend interface {
	GetLiveStatus(ctx context.Context) (*session.LiveStatus, error)
	GetMyActivePhase(ctx context.Context) (*session.ActivePhase, error)

	StartLivePhase(ctx context.Context, req LivePhaseRequest) (time.Time, error)
	StopLivePhase(ctx context.Context, username string) error

	StartPhase(ctx context.Context, req StartPhaseRequest) (*production.PhaseLog, error)
	FinishPhase(ctx context.Context, req FinishPhaseRequest) error

	StartDeadTime(ctx context.Context, req DeadTimeRequest) (int64, error)
	FinishDeadTime(ctx context.Context, id int64) error

	// GetProductionSheetByQr returns a fresh snapshot including phases and
	// logs. Implementations must not cache it.
	GetProductionSheetByQr(ctx context.Context, code string) (*production.ProductionSheet, error)

	SaveMultiSession(ctx context.Context, ms MultiSession) error
	// GetMyMultiSession returns nil without error when nothing is stored.
	GetMyMultiSession(ctx context.Context) (*MultiSession, error)
	ClearMyMultiSession(ctx context.Context) error
}

// LivePhaseRequest opens the operator's live session row. Sheet and phase
// fields are empty for a multi-job session.
type LivePhaseRequest struct {
	Username string           `json:"username"`
	Kind     session.Kind     `json:"kind"`
	SheetID  int64            `json:"sheet_id,omitempty"`
	QRCode   string           `json:"qr_code,omitempty"`
	PhaseID  string           `json:"phase_id,omitempty"`
	Position string           `json:"position,omitempty"`
	Stage    production.Stage `json:"stage,omitempty"`
}

// StartPhaseRequest opens a phase log. A zero StartTime means "now" on the
// server.
type StartPhaseRequest struct {
	SheetID   int64            `json:"sheet_id"`
	PhaseID   string           `json:"phase_id"`
	Position  string           `json:"position"`
	Operator  string           `json:"operator"`
	Stage     production.Stage `json:"stage"`
	StartTime time.Time        `json:"start_time,omitempty"`
}

// FinishPhaseRequest closes a phase log.
type FinishPhaseRequest struct {
	ID              int64     `json:"id"`
	EndTime         time.Time `json:"end_time"`
	QuantityDone    int       `json:"quantity_done"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// DeadTimeRequest opens a dead-time record.
type DeadTimeRequest struct {
	Username    string `json:"username"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Linkage     string `json:"linkage"`
}

// MultiSession is the server-held mirror of a builder's pending picks.
type MultiSession struct {
	ID        string               `json:"id,omitempty"`
	Username  string               `json:"username"`
	Items     []production.JobItem `json:"items"`
	UpdatedAt time.Time            `json:"updated_at,omitempty"`
}
