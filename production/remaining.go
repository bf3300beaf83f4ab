package production

// DoneByPhase sums QuantityDone per phase identity across the sheet's logs.
func DoneByPhase(logs []PhaseLog) map[PhaseKey]int {
	done := make(map[PhaseKey]int)
	for _, l := range logs {
		done[PhaseKey{PhaseID: l.PhaseID, Position: l.Position}] += l.QuantityDone
	}
	return done
}

// Remaining returns how many units can still be started at the phase.
//
// The strict rule is upstream completion minus this phase's own completion,
// where the first phase's upstream is the sheet quantity. When that is zero
// the phase is still startable if it is already among the pending picks for
// the sheet, or if it directly follows the furthest pending pick: a batch
// commits several consecutive phases before any upstream log exists. In that
// case the bound is the sheet quantity minus this phase's completion.
func Remaining(sheet *ProductionSheet, phaseID, position string, pending []JobItem) int {
	if sheet == nil {
		return 0
	}
	flow := ExecutionFlow(sheet.Phases)
	target := PhaseKey{PhaseID: phaseID, Position: position}

	idx := -1
	for i, def := range flow {
		if def.Key() == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}

	done := DoneByPhase(sheet.Logs)

	upstream := sheet.Quantity
	if idx > 0 {
		upstream = done[flow[idx-1].Key()]
	}
	if strict := upstream - done[target]; strict > 0 {
		return strict
	}

	highest := -1
	picked := false
	for _, item := range pending {
		if item.Sheet.SheetID != sheet.ID {
			continue
		}
		for i, def := range flow {
			if def.Key() != item.Key() {
				continue
			}
			if i == idx {
				picked = true
			}
			if i > highest {
				highest = i
			}
		}
	}
	if !picked && (highest < 0 || idx != highest+1) {
		return 0
	}
	if r := sheet.Quantity - done[target]; r > 0 {
		return r
	}
	return 0
}

// Eligible lists the phases of the sheet that can be added to a batch:
// remaining above zero and not already picked.
func Eligible(sheet *ProductionSheet, pending []JobItem) []PhaseDefinition {
	var out []PhaseDefinition
	for _, def := range ExecutionFlow(sheet.Phases) {
		if IsPicked(pending, sheet.ID, def.Key()) {
			continue
		}
		if Remaining(sheet, def.PhaseID, def.Position, pending) > 0 {
			out = append(out, def)
		}
	}
	return out
}

// IsPicked reports whether the phase of the sheet is already in pending.
func IsPicked(pending []JobItem, sheetID int64, key PhaseKey) bool {
	for _, item := range pending {
		if item.Sheet.SheetID == sheetID && item.Key() == key {
			return true
		}
	}
	return false
}
