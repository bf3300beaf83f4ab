package production

import (
	"strconv"
	"strings"
	"time"
)

// Stage labels the part of a phase a log or job covers.
type Stage string

const (
	StageSetup      Stage = "setup"
	StageProduction Stage = "production"
)

// PhaseDefinition is one manufacturing step on a sheet.
// Identity is (PhaseID, Position). Position is the authoring order and
// ProductionPosition is the execution order; either may hold a non-numeric marker.
type PhaseDefinition struct {
	PhaseID                string  `json:"phase_id"`
	Position               string  `json:"position"`
	ProductionPosition     string  `json:"production_position"`
	SetupTime              float64 `json:"setup_time"`
	ProductionTimePerPiece float64 `json:"production_time_per_piece"`
}

// Key returns the (PhaseID, Position) identity.
func (d PhaseDefinition) Key() PhaseKey {
	return PhaseKey{PhaseID: d.PhaseID, Position: d.Position}
}

// PositionNumber parses Position as an integer.
func (d PhaseDefinition) PositionNumber() (int, bool) {
	return parsePosition(d.Position)
}

// ProductionNumber parses ProductionPosition as an integer.
func (d PhaseDefinition) ProductionNumber() (int, bool) {
	return parsePosition(d.ProductionPosition)
}

// PlannedSeconds is the estimated effort for qty pieces, in the same unit as
// SetupTime and ProductionTimePerPiece.
func (d PhaseDefinition) PlannedSeconds(qty int) float64 {
	return d.SetupTime + d.ProductionTimePerPiece*float64(qty)
}

func parsePosition(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// PhaseKey identifies a phase within a sheet.
type PhaseKey struct {
	PhaseID  string `json:"phase_id"`
	Position string `json:"position"`
}

// PhaseKind discriminates the Phase variants.
type PhaseKind int

const (
	PhaseActive PhaseKind = iota + 1
	PhaseDeleted
)

// Phase is either an active definition or a deletion tombstone that only
// remembers where the phase used to sit.
type Phase struct {
	kind             PhaseKind
	def              PhaseDefinition
	originalPosition string
}

// Active wraps a live phase definition.
func Active(def PhaseDefinition) Phase {
	return Phase{kind: PhaseActive, def: def}
}

// Deleted builds a tombstone for a phase removed from the sheet.
func Deleted(originalPosition string) Phase {
	return Phase{kind: PhaseDeleted, originalPosition: originalPosition}
}

// Kind reports which variant p holds.
func (p Phase) Kind() PhaseKind { return p.kind }

// IsDeleted reports whether p is a tombstone.
func (p Phase) IsDeleted() bool { return p.kind == PhaseDeleted }

// Definition returns the definition of an active phase.
func (p Phase) Definition() (PhaseDefinition, bool) {
	if p.kind != PhaseActive {
		return PhaseDefinition{}, false
	}
	return p.def, true
}

// OriginalPosition returns the authoring position of a tombstone.
func (p Phase) OriginalPosition() (string, bool) {
	if p.kind != PhaseDeleted {
		return "", false
	}
	return p.originalPosition, true
}

// ProductionSheet is a snapshot of one sheet of a manufacturing order,
// including the log history the remaining-quantity rules need.
type ProductionSheet struct {
	ID          int64      `json:"id"`
	QRCode      string     `json:"qr_code"`
	OrderNumber string     `json:"order_number"`
	SheetNumber string     `json:"sheet_number"`
	ProductID   string     `json:"product_id"`
	Quantity    int        `json:"quantity"`
	Phases      []Phase    `json:"phases"`
	Logs        []PhaseLog `json:"logs"`
}

// Ref returns the reference stored inside job items.
func (s *ProductionSheet) Ref() SheetRef {
	return SheetRef{SheetID: s.ID, QRCode: s.QRCode}
}

// Phase looks up an active phase by identity.
func (s *ProductionSheet) Phase(phaseID, position string) (PhaseDefinition, bool) {
	for _, p := range s.Phases {
		if def, ok := p.Definition(); ok && def.PhaseID == phaseID && def.Position == position {
			return def, true
		}
	}
	return PhaseDefinition{}, false
}

// SheetRef points at a sheet without carrying its state; sheets are always
// re-resolved through the QR code.
type SheetRef struct {
	SheetID int64  `json:"sheet_id"`
	QRCode  string `json:"qr_code"`
}

// PhaseLog is an auditable record of one operator working one phase of a sheet.
type PhaseLog struct {
	ID           int64      `json:"id"`
	SheetID      int64      `json:"sheet_id"`
	PhaseID      string     `json:"phase_id"`
	Position     string     `json:"position"`
	Operator     string     `json:"operator"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	QuantityDone int        `json:"quantity_done"`
	Stage        Stage      `json:"stage"`
}

// Open reports whether the log has not been finished yet.
func (l PhaseLog) Open() bool { return l.EndTime == nil }

// JobItem is one (sheet, phase) pick of a multi-job session.
// Split is fixed when a stop begins writing logs; OpenLogID names a log
// that was started for the item but not finished yet. LogID is set once
// the item's log pair has been written.
type JobItem struct {
	Sheet     SheetRef   `json:"sheet"`
	PhaseID   string     `json:"phase_id"`
	Position  string     `json:"position"`
	Stage     Stage      `json:"stage"`
	Split     *TimeSplit `json:"split,omitempty"`
	OpenLogID int64      `json:"open_log_id,omitempty"`
	LogID     int64      `json:"log_id,omitempty"`
}

// TimeSplit is an item's share of a multi-job session.
type TimeSplit struct {
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// End returns the instant the share ends.
func (s TimeSplit) End() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// Key returns the phase identity of the item.
func (j JobItem) Key() PhaseKey {
	return PhaseKey{PhaseID: j.PhaseID, Position: j.Position}
}

// Same reports whether two items pick the same phase of the same sheet.
func (j JobItem) Same(o JobItem) bool {
	return j.Sheet.SheetID == o.Sheet.SheetID && j.PhaseID == o.PhaseID && j.Position == o.Position
}
