package production

import (
	"fmt"
	"sort"
)

// SortPhases returns a copy of phases in ascending order of the chosen
// position field. Entries whose key is not numeric, and tombstones when sorting
// by execution order, keep their original relative order after the numeric ones.
func SortPhases(phases []Phase, useExecutionOrder bool) []Phase {
	type keyed struct {
		phase Phase
		n     int
		ok    bool
	}
	ks := make([]keyed, len(phases))
	for i, p := range phases {
		ks[i] = keyed{phase: p}
		if def, ok := p.Definition(); ok {
			if useExecutionOrder {
				ks[i].n, ks[i].ok = def.ProductionNumber()
			} else {
				ks[i].n, ks[i].ok = def.PositionNumber()
			}
		} else if !useExecutionOrder {
			pos, _ := p.OriginalPosition()
			ks[i].n, ks[i].ok = parsePosition(pos)
		}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].ok != ks[j].ok {
			return ks[i].ok
		}
		return ks[i].ok && ks[i].n < ks[j].n
	})
	out := make([]Phase, len(ks))
	for i, k := range ks {
		out[i] = k.phase
	}
	return out
}

// ExecutionFlow returns the active phases that take part in production, in
// execution order. Tombstones and phases without a numeric production
// position are left out.
func ExecutionFlow(phases []Phase) []PhaseDefinition {
	var flow []PhaseDefinition
	for _, p := range SortPhases(phases, true) {
		def, ok := p.Definition()
		if !ok {
			continue
		}
		if _, ok := def.ProductionNumber(); !ok {
			continue
		}
		flow = append(flow, def)
	}
	return flow
}

// ValidatePositions checks that active phases have unique numeric positions
// and unique numeric production positions.
func ValidatePositions(phases []Phase) error {
	seenPos := make(map[int]string)
	seenProd := make(map[int]string)
	for _, p := range phases {
		def, ok := p.Definition()
		if !ok {
			continue
		}
		if n, ok := def.PositionNumber(); ok {
			if other, dup := seenPos[n]; dup {
				return fmt.Errorf("position %d used by phases %s and %s", n, other, def.PhaseID)
			}
			seenPos[n] = def.PhaseID
		}
		if n, ok := def.ProductionNumber(); ok {
			if other, dup := seenProd[n]; dup {
				return fmt.Errorf("production position %d used by phases %s and %s", n, other, def.PhaseID)
			}
			seenProd[n] = def.PhaseID
		}
	}
	return nil
}
