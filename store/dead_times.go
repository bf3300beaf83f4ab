package store

import (
	"database/sql"
	"fmt"
	"time"
)

type DeadTime struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Linkage     string     `json:"linkage"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
}

const deadTimeSelectCols = `id, username, code, description, linkage, start_time, end_time`

func scanDeadTime(row interface{ Scan(...any) error }) (*DeadTime, error) {
	var d DeadTime
	var start, end any
	if err := row.Scan(&d.ID, &d.Username, &d.Code, &d.Description, &d.Linkage, &start, &end); err != nil {
		return nil, err
	}
	d.StartTime = parseTime(start)
	d.EndTime = parseTimePtr(end)
	return &d, nil
}

// StartDeadTime opens a dead time. It fails with ErrBusy when the operator
// has a live session or another open dead time.
func (db *DB) StartDeadTime(d *DeadTime) error {
	return db.inTx(func(tx *sql.Tx) error {
		var busy int
		err := tx.QueryRow(db.Q(`SELECT (SELECT COUNT(*) FROM live_sessions WHERE username=?) + (SELECT COUNT(*) FROM dead_times WHERE username=? AND end_time IS NULL)`),
			d.Username, d.Username).Scan(&busy)
		if err != nil {
			return fmt.Errorf("start dead time: %w", err)
		}
		if busy > 0 {
			return fmt.Errorf("start dead time for %s: %w", d.Username, ErrBusy)
		}
		id, err := db.insertID(tx, `INSERT INTO dead_times (username, code, description, linkage, start_time) VALUES (?, ?, ?, ?, ?)`,
			d.Username, d.Code, d.Description, d.Linkage, db.ts(d.StartTime))
		if err != nil {
			return fmt.Errorf("start dead time: %w", err)
		}
		d.ID = id
		return nil
	})
}

// FinishDeadTime closes an open dead time and returns it.
func (db *DB) FinishDeadTime(id int64, end time.Time) (*DeadTime, error) {
	res, err := db.Exec(db.Q(`UPDATE dead_times SET end_time=? WHERE id=? AND end_time IS NULL`), db.ts(end), id)
	if err != nil {
		return nil, fmt.Errorf("finish dead time %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("finish dead time %d: %w", id, ErrNotFound)
	}
	return db.GetDeadTime(id)
}

func (db *DB) GetDeadTime(id int64) (*DeadTime, error) {
	d, err := scanDeadTime(db.QueryRow(db.Q(`SELECT `+deadTimeSelectCols+` FROM dead_times WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("dead time %d", id))
	}
	return d, nil
}

func (db *DB) ListOpenDeadTimes() ([]DeadTime, error) {
	rows, err := db.Query(`SELECT ` + deadTimeSelectCols + ` FROM dead_times WHERE end_time IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeadTime
	for rows.Next() {
		d, err := scanDeadTime(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
