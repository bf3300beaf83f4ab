// Package livestate keeps the live sessions of the core server: SQL is the
// authority and Redis holds a write-through mirror for dashboards.
package livestate

import (
	"context"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

// Entry is one operator's open activity as shown on a dashboard.
type Entry struct {
	Username  string           `json:"username"`
	Kind      session.Kind     `json:"kind"`
	SheetID   int64            `json:"sheet_id,omitempty"`
	QRCode    string           `json:"qr_code,omitempty"`
	PhaseID   string           `json:"phase_id,omitempty"`
	Position  string           `json:"position,omitempty"`
	Stage     production.Stage `json:"stage,omitempty"`
	Code      string           `json:"code,omitempty"`
	Jobs      int              `json:"jobs,omitempty"`
	StartTime time.Time        `json:"start_time"`
}

// DashboardEntry is an Entry with its running time at the read.
type DashboardEntry struct {
	Entry
	RunningSeconds int64 `json:"running_seconds"`
}

// Mirror is the fast copy of the live entries.
type Mirror interface {
	SetEntry(ctx context.Context, e *Entry) error
	RemoveEntry(ctx context.Context, username string) error
	ListEntries(ctx context.Context) ([]Entry, error)
	FlushAll(ctx context.Context) error
}
