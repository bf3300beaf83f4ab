package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

// LiveSessionRow is an operator's open phase session. Sheet and phase fields
// are empty for a multi-job session.
type LiveSessionRow struct {
	Username  string           `json:"username"`
	Kind      session.Kind     `json:"kind"`
	SheetID   int64            `json:"sheet_id"`
	QRCode    string           `json:"qr_code"`
	PhaseID   string           `json:"phase_id"`
	Position  string           `json:"position"`
	Stage     production.Stage `json:"stage"`
	StartTime time.Time        `json:"start_time"`
}

const liveSelectCols = `username, kind, sheet_id, qr_code, phase_id, position, stage, start_time`

func scanLive(row interface{ Scan(...any) error }) (*LiveSessionRow, error) {
	var r LiveSessionRow
	var kind, stage string
	var start any
	if err := row.Scan(&r.Username, &kind, &r.SheetID, &r.QRCode, &r.PhaseID, &r.Position, &stage, &start); err != nil {
		return nil, err
	}
	r.Kind = session.Kind(kind)
	r.Stage = production.Stage(stage)
	r.StartTime = parseTime(start)
	return &r, nil
}

// StartLiveSession opens the operator's live session. It fails with ErrBusy
// when the operator already has a live session or an open dead time.
func (db *DB) StartLiveSession(r *LiveSessionRow) error {
	if r.Kind != session.KindSingle && r.Kind != session.KindMulti {
		return fmt.Errorf("start live session: unsupported kind %q", r.Kind)
	}
	return db.inTx(func(tx *sql.Tx) error {
		var dead int
		if err := tx.QueryRow(db.Q(`SELECT COUNT(*) FROM dead_times WHERE username=? AND end_time IS NULL`), r.Username).Scan(&dead); err != nil {
			return fmt.Errorf("start live session: %w", err)
		}
		if dead > 0 {
			return fmt.Errorf("start live session for %s: open dead time: %w", r.Username, ErrBusy)
		}
		res, err := tx.Exec(db.Q(`INSERT INTO live_sessions (`+liveSelectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(username) DO NOTHING`),
			r.Username, string(r.Kind), r.SheetID, r.QRCode, r.PhaseID, r.Position, string(r.Stage), db.ts(r.StartTime))
		if err != nil {
			return fmt.Errorf("start live session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("start live session for %s: %w", r.Username, ErrBusy)
		}
		return nil
	})
}

// StopLiveSession removes the operator's live session. Stopping an operator
// without one is not an error.
func (db *DB) StopLiveSession(username string) (*LiveSessionRow, error) {
	var stopped *LiveSessionRow
	err := db.inTx(func(tx *sql.Tx) error {
		r, err := scanLive(tx.QueryRow(db.Q(`SELECT `+liveSelectCols+` FROM live_sessions WHERE username=?`), username))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stop live session: %w", err)
		}
		if _, err := tx.Exec(db.Q(`DELETE FROM live_sessions WHERE username=?`), username); err != nil {
			return fmt.Errorf("stop live session: %w", err)
		}
		stopped = r
		return nil
	})
	return stopped, err
}

func (db *DB) GetLiveSession(username string) (*LiveSessionRow, error) {
	r, err := scanLive(db.QueryRow(db.Q(`SELECT `+liveSelectCols+` FROM live_sessions WHERE username=?`), username))
	if err != nil {
		return nil, notFound(err, "live session "+username)
	}
	return r, nil
}

func (db *DB) ListLiveSessions() ([]LiveSessionRow, error) {
	rows, err := db.Query(`SELECT ` + liveSelectCols + ` FROM live_sessions ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LiveSessionRow
	for rows.Next() {
		r, err := scanLive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LiveStatus assembles the authoritative snapshot at now.
func (db *DB) LiveStatus(now time.Time) (*session.LiveStatus, error) {
	live, err := db.ListLiveSessions()
	if err != nil {
		return nil, fmt.Errorf("live status sessions: %w", err)
	}
	dead, err := db.ListOpenDeadTimes()
	if err != nil {
		return nil, fmt.Errorf("live status dead times: %w", err)
	}
	operators, err := db.ListOperators()
	if err != nil {
		return nil, fmt.Errorf("live status operators: %w", err)
	}

	now = now.UTC()
	st := &session.LiveStatus{ServerTime: now, Active: []session.ActiveEntry{}, Dead: []session.DeadEntry{}, Idle: []string{}}
	busy := make(map[string]bool)
	for _, r := range live {
		status := "running"
		if r.Kind == session.KindMulti {
			status = session.StatusMulti
		}
		st.Active = append(st.Active, session.ActiveEntry{
			Username:       r.Username,
			Status:         status,
			SheetID:        r.SheetID,
			QRCode:         r.QRCode,
			PhaseID:        r.PhaseID,
			Position:       r.Position,
			Stage:          r.Stage,
			RunningSeconds: runningSeconds(r.StartTime, now),
			StartTime:      r.StartTime,
		})
		busy[r.Username] = true
	}
	for _, d := range dead {
		st.Dead = append(st.Dead, session.DeadEntry{
			ID:             d.ID,
			Username:       d.Username,
			Code:           d.Code,
			Description:    d.Description,
			Linkage:        d.Linkage,
			RunningSeconds: runningSeconds(d.StartTime, now),
			StartTime:      d.StartTime,
		})
		busy[d.Username] = true
	}
	for _, name := range operators {
		if !busy[name] {
			st.Idle = append(st.Idle, name)
		}
	}
	return st, nil
}

func runningSeconds(start, now time.Time) int64 {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int64(now.Sub(start) / time.Second)
}
