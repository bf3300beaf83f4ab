package store

import (
	"database/sql"
	"fmt"

	"phasetrack/production"
)

// CreateSheet stores a sheet with its phases in their given order. Tombstones
// keep their original position. The sheet's ID is assigned.
func (db *DB) CreateSheet(s *production.ProductionSheet) error {
	return db.inTx(func(tx *sql.Tx) error {
		id, err := db.insertID(tx, `INSERT INTO production_sheets (qr_code, order_number, sheet_number, product_id, quantity) VALUES (?, ?, ?, ?, ?)`,
			s.QRCode, s.OrderNumber, s.SheetNumber, s.ProductID, s.Quantity)
		if err != nil {
			return fmt.Errorf("create sheet %s: %w", s.QRCode, err)
		}
		for i, p := range s.Phases {
			var def production.PhaseDefinition
			deleted := 0
			if pos, ok := p.OriginalPosition(); ok {
				def.Position = pos
				deleted = 1
			} else {
				def, _ = p.Definition()
			}
			_, err := tx.Exec(db.Q(`INSERT INTO phase_definitions (sheet_id, seq, phase_id, position, production_position, setup_time, production_time_per_piece, deleted) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				id, i, def.PhaseID, def.Position, def.ProductionPosition, def.SetupTime, def.ProductionTimePerPiece, deleted)
			if err != nil {
				return fmt.Errorf("create phase %d of sheet %s: %w", i, s.QRCode, err)
			}
		}
		s.ID = id
		return nil
	})
}

const sheetSelectCols = `id, qr_code, order_number, sheet_number, product_id, quantity`

// GetSheetByQR returns the sheet with its phases and full log history.
func (db *DB) GetSheetByQR(qr string) (*production.ProductionSheet, error) {
	row := db.QueryRow(db.Q(`SELECT `+sheetSelectCols+` FROM production_sheets WHERE qr_code=?`), qr)
	return db.loadSheet(row, "sheet "+qr)
}

func (db *DB) GetSheet(id int64) (*production.ProductionSheet, error) {
	row := db.QueryRow(db.Q(`SELECT `+sheetSelectCols+` FROM production_sheets WHERE id=?`), id)
	return db.loadSheet(row, fmt.Sprintf("sheet %d", id))
}

func (db *DB) loadSheet(row *sql.Row, what string) (*production.ProductionSheet, error) {
	var s production.ProductionSheet
	if err := row.Scan(&s.ID, &s.QRCode, &s.OrderNumber, &s.SheetNumber, &s.ProductID, &s.Quantity); err != nil {
		return nil, notFound(err, what)
	}
	phases, err := db.listPhases(s.ID)
	if err != nil {
		return nil, fmt.Errorf("%s phases: %w", what, err)
	}
	logs, err := db.ListPhaseLogs(s.ID)
	if err != nil {
		return nil, fmt.Errorf("%s logs: %w", what, err)
	}
	s.Phases = phases
	s.Logs = logs
	return &s, nil
}

func (db *DB) listPhases(sheetID int64) ([]production.Phase, error) {
	rows, err := db.Query(db.Q(`SELECT phase_id, position, production_position, setup_time, production_time_per_piece, deleted FROM phase_definitions WHERE sheet_id=? ORDER BY seq, id`), sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var phases []production.Phase
	for rows.Next() {
		var d production.PhaseDefinition
		var deleted int
		if err := rows.Scan(&d.PhaseID, &d.Position, &d.ProductionPosition, &d.SetupTime, &d.ProductionTimePerPiece, &deleted); err != nil {
			return nil, err
		}
		if deleted != 0 {
			phases = append(phases, production.Deleted(d.Position))
			continue
		}
		phases = append(phases, production.Active(d))
	}
	return phases, rows.Err()
}

// SheetSummary is a sheet row without phases and logs.
type SheetSummary struct {
	ID          int64  `json:"id"`
	QRCode      string `json:"qr_code"`
	OrderNumber string `json:"order_number"`
	SheetNumber string `json:"sheet_number"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
}

func (db *DB) ListSheets() ([]SheetSummary, error) {
	rows, err := db.Query(`SELECT ` + sheetSelectCols + ` FROM production_sheets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SheetSummary
	for rows.Next() {
		var s SheetSummary
		if err := rows.Scan(&s.ID, &s.QRCode, &s.OrderNumber, &s.SheetNumber, &s.ProductID, &s.Quantity); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
