package production

import "encoding/json"

// phaseWire is the canonical JSON shape of a Phase.
type phaseWire struct {
	PhaseID                string  `json:"phase_id,omitempty"`
	Position               string  `json:"position"`
	ProductionPosition     string  `json:"production_position,omitempty"`
	SetupTime              float64 `json:"setup_time,omitempty"`
	ProductionTimePerPiece float64 `json:"production_time_per_piece,omitempty"`
	Deleted                bool    `json:"deleted,omitempty"`
}

func (p Phase) MarshalJSON() ([]byte, error) {
	if pos, ok := p.OriginalPosition(); ok {
		return json.Marshal(phaseWire{Position: pos, Deleted: true})
	}
	return json.Marshal(phaseWire{
		PhaseID:                p.def.PhaseID,
		Position:               p.def.Position,
		ProductionPosition:     p.def.ProductionPosition,
		SetupTime:              p.def.SetupTime,
		ProductionTimePerPiece: p.def.ProductionTimePerPiece,
	})
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var w phaseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Deleted {
		*p = Deleted(w.Position)
		return nil
	}
	*p = Active(PhaseDefinition{
		PhaseID:                w.PhaseID,
		Position:               w.Position,
		ProductionPosition:     w.ProductionPosition,
		SetupTime:              w.SetupTime,
		ProductionTimePerPiece: w.ProductionTimePerPiece,
	})
	return nil
}
