package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExclusivityConflict is returned when another activity of the operator
// is already open. Use errors.As with *ConflictError for the details.
var ErrExclusivityConflict = errors.New("another session is active")

// Intent is the kind of activity an operator is about to start.
type Intent int

const (
	IntentDeadTime Intent = iota + 1
	IntentSinglePhase
	IntentMultiJob
)

func (i Intent) String() string {
	switch i {
	case IntentDeadTime:
		return "dead_time"
	case IntentSinglePhase:
		return "single_phase"
	case IntentMultiJob:
		return "multi_job"
	default:
		return "unknown"
	}
}

// Outcome is the result class of an exclusivity check.
type Outcome int

const (
	Ok Outcome = iota
	BlockedDeadTime
	BlockedOtherSession
)

// Verdict is the result of one authoritative exclusivity read. Skew is the
// backend clock minus the local clock at the time of the read.
type Verdict struct {
	Outcome    Outcome
	Session    *LiveSession
	MustResume bool
	ServerTime time.Time
	Skew       time.Duration
}

// Err returns nil for Ok and a *ConflictError otherwise.
func (v Verdict) Err(operator string) error {
	if v.Outcome == Ok {
		return nil
	}
	return &ConflictError{Operator: operator, Outcome: v.Outcome, Session: v.Session, MustResume: v.MustResume}
}

// ConflictError describes why a start was refused.
type ConflictError struct {
	Operator   string
	Outcome    Outcome
	Session    *LiveSession
	MustResume bool
}

func (e *ConflictError) Error() string {
	switch {
	case e.Outcome == BlockedDeadTime && e.Session != nil && e.Session.DeadTime != nil:
		return fmt.Sprintf("operator %s has open dead time %s", e.Operator, e.Session.DeadTime.Code)
	case e.MustResume:
		return fmt.Sprintf("operator %s already has a multi-job session running; resume it instead", e.Operator)
	case e.Session != nil:
		return fmt.Sprintf("operator %s already has a %s session running", e.Operator, e.Session.Kind)
	default:
		return fmt.Sprintf("operator %s already has an active phase", e.Operator)
	}
}

func (e *ConflictError) Unwrap() error { return ErrExclusivityConflict }

// StatusSource is the part of the backend the guard reads from.
type StatusSource interface {
	GetLiveStatus(ctx context.Context) (*LiveStatus, error)
	GetMyActivePhase(ctx context.Context) (*ActivePhase, error)
}

// Guard decides whether an operator may start a new activity. It never
// caches: every call is a fresh read of the backend, and callers run it
// again immediately before committing.
type Guard struct {
	src StatusSource
	now func() time.Time
}

// NewGuard creates a guard over the given status source. now defaults to
// time.Now.
func NewGuard(src StatusSource, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{src: src, now: now}
}

// Check performs the authoritative read. Rules in priority order:
// an open dead time blocks everything; an open single-phase session blocks
// every start; an open multi-job session blocks every start and asks the
// caller to resume it when the intent is another multi-job.
// Read errors are returned as-is and must be treated as blocking.
func (g *Guard) Check(ctx context.Context, operator string, intent Intent) (Verdict, error) {
	clientNow := g.now()
	status, err := g.src.GetLiveStatus(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("read live status: %w", err)
	}
	v := Verdict{ServerTime: status.ServerTime}
	if !status.ServerTime.IsZero() {
		v.Skew = status.ServerTime.Sub(clientNow)
	}

	ls := status.For(operator)
	switch {
	case ls == nil:
	case ls.Kind == KindDeadTime:
		v.Outcome = BlockedDeadTime
		v.Session = ls
		return v, nil
	case ls.Kind == KindSingle:
		v.Outcome = BlockedOtherSession
		v.Session = ls
		return v, nil
	case ls.Kind == KindMulti:
		v.Outcome = BlockedOtherSession
		v.Session = ls
		v.MustResume = intent == IntentMultiJob
		return v, nil
	}

	if intent == IntentSinglePhase {
		ap, err := g.src.GetMyActivePhase(ctx)
		if err != nil {
			return Verdict{}, fmt.Errorf("read active phase: %w", err)
		}
		if ap != nil && ap.Active != nil {
			v.Outcome = BlockedOtherSession
			v.Session = &LiveSession{
				Kind:      KindSingle,
				Operator:  operator,
				StartTime: ap.Active.StartTime,
				Single: &SinglePhase{
					SheetID:  ap.Active.SheetID,
					PhaseID:  ap.Active.PhaseID,
					Position: ap.Active.Position,
					Stage:    ap.Active.Stage,
				},
			}
		}
	}
	return v, nil
}

// Require runs Check and turns a blocked verdict into an error.
func (g *Guard) Require(ctx context.Context, operator string, intent Intent) (Verdict, error) {
	v, err := g.Check(ctx, operator, intent)
	if err != nil {
		return v, err
	}
	return v, v.Err(operator)
}
