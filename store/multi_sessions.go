package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"phasetrack/production"
)

// StoredJobList is the server-held mirror of an operator's pending picks.
type StoredJobList struct {
	SessionID string               `json:"id"`
	Username  string               `json:"username"`
	Items     []production.JobItem `json:"items"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SaveJobList replaces the operator's stored job list.
func (db *DB) SaveJobList(l *StoredJobList) error {
	items := l.Items
	if items == nil {
		items = []production.JobItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode job list: %w", err)
	}
	_, err = db.Exec(db.Q(`
		INSERT INTO multi_sessions (username, session_id, items, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			session_id = excluded.session_id,
			items = excluded.items,
			updated_at = excluded.updated_at
	`), l.Username, l.SessionID, string(data), db.ts(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save job list for %s: %w", l.Username, err)
	}
	return nil
}

// GetJobList returns the operator's stored job list, or nil when none.
func (db *DB) GetJobList(username string) (*StoredJobList, error) {
	var l StoredJobList
	var data string
	var updated any
	err := db.QueryRow(db.Q(`SELECT username, session_id, items, updated_at FROM multi_sessions WHERE username=?`), username).
		Scan(&l.Username, &l.SessionID, &data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job list for %s: %w", username, err)
	}
	if err := json.Unmarshal([]byte(data), &l.Items); err != nil {
		return nil, fmt.Errorf("decode job list for %s: %w", username, err)
	}
	l.UpdatedAt = parseTime(updated)
	return &l, nil
}

func (db *DB) ClearJobList(username string) error {
	_, err := db.Exec(db.Q(`DELETE FROM multi_sessions WHERE username=?`), username)
	return err
}
