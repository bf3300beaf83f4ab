package multijob

import "phasetrack/session"

// EventEmitter is the interface the multijob package uses to emit events.
type EventEmitter interface {
	EmitBuilderStateChanged(operator string, oldState, newState State)
	EmitJobListChanged(operator string, items int)
	EmitSessionBlocked(operator string, kind session.Kind)
	EmitOrphanDetected(operator string, storedItems int)
	EmitSessionSaved(operator string, result SaveResult)
}

type nopEmitter struct{}

func (nopEmitter) EmitBuilderStateChanged(string, State, State) {}
func (nopEmitter) EmitJobListChanged(string, int)               {}
func (nopEmitter) EmitSessionBlocked(string, session.Kind)      {}
func (nopEmitter) EmitOrphanDetected(string, int)               {}
func (nopEmitter) EmitSessionSaved(string, SaveResult)          {}
