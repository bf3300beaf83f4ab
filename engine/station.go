package engine

import (
	"context"
	"time"

	"phasetrack/activity"
	"phasetrack/backend"
	"phasetrack/multijob"
)

// OperatorBackend is a backend connection acting as one operator.
type OperatorBackend interface {
	backend.Backend
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
}

// Station is everything one logged-in operator works with at the terminal.
type Station struct {
	Operator  string
	Backend   OperatorBackend
	Builder   *multijob.Builder
	Autosaver *multijob.Autosaver
	Runner    *activity.Runner
	LoginAt   time.Time
}

func newStation(operator string, be OperatorBackend, bus *EventBus, debounce time.Duration, now func() time.Time) *Station {
	saver := multijob.NewAutosaver(be, debounce)
	st := &Station{
		Operator:  operator,
		Backend:   be,
		Autosaver: saver,
		Builder:   multijob.NewBuilder(operator, be, &builderEmitter{bus: bus}, saver),
		Runner:    activity.NewRunner(operator, be, &activityEmitter{bus: bus}),
		LoginAt:   now(),
	}
	st.Builder.SetClock(now)
	st.Runner.SetClock(now)
	return st
}

// State is a point-in-time view of the operator for display.
type State struct {
	Builder multijob.Snapshot `json:"builder"`
	Current any               `json:"current"`
}
