package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phasetrack/production"
)

const phaseLogSelectCols = `id, sheet_id, phase_id, position, operator, stage, start_time, end_time, quantity_done`

func scanPhaseLog(row interface{ Scan(...any) error }) (*production.PhaseLog, error) {
	var l production.PhaseLog
	var stage string
	var start, end any
	if err := row.Scan(&l.ID, &l.SheetID, &l.PhaseID, &l.Position, &l.Operator, &stage, &start, &end, &l.QuantityDone); err != nil {
		return nil, err
	}
	l.Stage = production.Stage(stage)
	l.StartTime = parseTime(start)
	l.EndTime = parseTimePtr(end)
	return &l, nil
}

// StartPhaseLog opens a log. The sheet must exist.
func (db *DB) StartPhaseLog(sheetID int64, phaseID, position, operator string, stage production.Stage, start time.Time) (*production.PhaseLog, error) {
	if stage == "" {
		stage = production.StageProduction
	}
	var exists int
	err := db.QueryRow(db.Q(`SELECT COUNT(*) FROM production_sheets WHERE id=?`), sheetID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("start log: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("start log: sheet %d: %w", sheetID, ErrNotFound)
	}
	id, err := db.insertID(db, `INSERT INTO phase_logs (sheet_id, phase_id, position, operator, stage, start_time) VALUES (?, ?, ?, ?, ?, ?)`,
		sheetID, phaseID, position, operator, string(stage), db.ts(start))
	if err != nil {
		return nil, fmt.Errorf("start log: %w", err)
	}
	return &production.PhaseLog{
		ID:        id,
		SheetID:   sheetID,
		PhaseID:   phaseID,
		Position:  position,
		Operator:  operator,
		StartTime: start.UTC(),
		Stage:     stage,
	}, nil
}

// FinishPhaseLog closes a log. Finishing an already closed log overwrites
// it, so a retried request lands on the same values.
func (db *DB) FinishPhaseLog(id int64, end time.Time, quantity int, durationSeconds int64) error {
	res, err := db.Exec(db.Q(`UPDATE phase_logs SET end_time=?, quantity_done=?, duration_seconds=? WHERE id=?`),
		db.ts(end), quantity, durationSeconds, id)
	if err != nil {
		return fmt.Errorf("finish log %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish log %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) GetPhaseLog(id int64) (*production.PhaseLog, error) {
	l, err := scanPhaseLog(db.QueryRow(db.Q(`SELECT `+phaseLogSelectCols+` FROM phase_logs WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("log %d", id))
	}
	return l, nil
}

// OpenPhaseLog returns the operator's most recent unfinished log, or nil.
func (db *DB) OpenPhaseLog(operator string) (*production.PhaseLog, error) {
	l, err := scanPhaseLog(db.QueryRow(db.Q(`SELECT `+phaseLogSelectCols+` FROM phase_logs WHERE operator=? AND end_time IS NULL ORDER BY id DESC LIMIT 1`), operator))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", operator, err)
	}
	return l, nil
}

func (db *DB) ListPhaseLogs(sheetID int64) ([]production.PhaseLog, error) {
	rows, err := db.Query(db.Q(`SELECT `+phaseLogSelectCols+` FROM phase_logs WHERE sheet_id=? ORDER BY id`), sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []production.PhaseLog
	for rows.Next() {
		l, err := scanPhaseLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}
