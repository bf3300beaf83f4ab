package store

import (
	"encoding/json"
	"time"
)

// Station is a registered terminal process.
type Station struct {
	ID            int64      `json:"id"`
	NodeID        string     `json:"node_id"`
	Line          string     `json:"line"`
	Hostname      string     `json:"hostname"`
	Version       string     `json:"version"`
	Operators     []string   `json:"operators"`
	RegisteredAt  time.Time  `json:"registered_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	Status        string     `json:"status"`
}

// UpsertStation records a heartbeat. An unknown node is registered; a known
// one gets its details refreshed and its status reset to active.
func (db *DB) UpsertStation(nodeID, line, hostname, version string, operators []string, at time.Time) error {
	if operators == nil {
		operators = []string{}
	}
	opsJSON, _ := json.Marshal(operators)
	_, err := db.Exec(db.Q(`
		INSERT INTO stations (node_id, line, hostname, version, operators, registered_at, last_heartbeat, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'active')
		ON CONFLICT(node_id) DO UPDATE SET
			line = excluded.line,
			hostname = excluded.hostname,
			version = excluded.version,
			operators = excluded.operators,
			last_heartbeat = excluded.last_heartbeat,
			status = 'active'
	`), nodeID, line, hostname, version, string(opsJSON), db.ts(at), db.ts(at))
	return err
}

// ListStations returns all registered stations.
func (db *DB) ListStations() ([]Station, error) {
	rows, err := db.Query(`
		SELECT id, node_id, line, hostname, version, operators, registered_at, last_heartbeat, status
		FROM stations ORDER BY node_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		var s Station
		var opsJSON string
		var regAt, hbAt any
		if err := rows.Scan(&s.ID, &s.NodeID, &s.Line, &s.Hostname, &s.Version, &opsJSON, &regAt, &hbAt, &s.Status); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(opsJSON), &s.Operators)
		s.RegisteredAt = parseTime(regAt)
		s.LastHeartbeat = parseTimePtr(hbAt)
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

// MarkStaleStations sets status to "stale" for stations whose last heartbeat
// is older than threshold.
func (db *DB) MarkStaleStations(now time.Time, threshold time.Duration) (int64, error) {
	result, err := db.Exec(db.Q(`
		UPDATE stations
		SET status = 'stale'
		WHERE status = 'active'
		  AND last_heartbeat IS NOT NULL
		  AND last_heartbeat < ?
	`), db.ts(now.Add(-threshold)))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
