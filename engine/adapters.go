package engine

import (
	"phasetrack/multijob"
	"phasetrack/session"
)

// builderEmitter adapts the EventBus to multijob.EventEmitter.
type builderEmitter struct {
	bus *EventBus
}

func (e *builderEmitter) EmitBuilderStateChanged(operator string, oldState, newState multijob.State) {
	e.bus.Emit(Event{Type: EventBuilderStateChanged, Operator: operator, Payload: BuilderStateChangedEvent{
		OldState: oldState, NewState: newState,
	}})
}

func (e *builderEmitter) EmitJobListChanged(operator string, items int) {
	e.bus.Emit(Event{Type: EventJobListChanged, Operator: operator, Payload: JobListChangedEvent{Items: items}})
}

func (e *builderEmitter) EmitSessionBlocked(operator string, kind session.Kind) {
	e.bus.Emit(Event{Type: EventSessionBlocked, Operator: operator, Payload: SessionBlockedEvent{Kind: kind}})
}

func (e *builderEmitter) EmitOrphanDetected(operator string, storedItems int) {
	e.bus.Emit(Event{Type: EventOrphanDetected, Operator: operator, Payload: OrphanDetectedEvent{StoredItems: storedItems}})
}

func (e *builderEmitter) EmitSessionSaved(operator string, result multijob.SaveResult) {
	e.bus.Emit(Event{Type: EventSessionSaved, Operator: operator, Payload: SessionSavedEvent{Result: result}})
}

// activityEmitter adapts the EventBus to activity.EventEmitter.
type activityEmitter struct {
	bus *EventBus
}

func (e *activityEmitter) EmitDeadTimeStarted(operator string, id int64, code string) {
	e.bus.Emit(Event{Type: EventDeadTimeStarted, Operator: operator, Payload: DeadTimeEvent{ID: id, Code: code, Open: true}})
}

func (e *activityEmitter) EmitDeadTimeStopped(operator string, id int64) {
	e.bus.Emit(Event{Type: EventDeadTimeStopped, Operator: operator, Payload: DeadTimeEvent{ID: id}})
}

func (e *activityEmitter) EmitPhaseStarted(operator string, logID int64, phaseID, position string) {
	e.bus.Emit(Event{Type: EventPhaseStarted, Operator: operator, Payload: PhaseEvent{
		LogID: logID, PhaseID: phaseID, Position: position, Open: true,
	}})
}

func (e *activityEmitter) EmitPhaseFinished(operator string, logID int64, quantity int, durationSeconds int64) {
	e.bus.Emit(Event{Type: EventPhaseFinished, Operator: operator, Payload: PhaseEvent{
		LogID: logID, Quantity: quantity, DurationSeconds: durationSeconds,
	}})
}
