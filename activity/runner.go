// Package activity runs the two single-activity kinds an operator can do
// besides a multi-job session: dead time and one phase of one sheet. Both
// go through the same exclusivity check.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"phasetrack/backend"
	"phasetrack/production"
	"phasetrack/session"
)

var (
	ErrNoDeadTime    = errors.New("no open dead time")
	ErrNoActivePhase = errors.New("no active phase")
)

// EventEmitter is the interface the activity package uses to emit events.
type EventEmitter interface {
	EmitDeadTimeStarted(operator string, id int64, code string)
	EmitDeadTimeStopped(operator string, id int64)
	EmitPhaseStarted(operator string, logID int64, phaseID, position string)
	EmitPhaseFinished(operator string, logID int64, quantity int, durationSeconds int64)
}

// Runner starts and stops dead times and single phases for one operator.
type Runner struct {
	mu       sync.Mutex
	operator string
	be       backend.Backend
	guard    *session.Guard
	emitter  EventEmitter
	now      func() time.Time
}

// NewRunner creates a runner for the operator.
func NewRunner(operator string, be backend.Backend, emitter EventEmitter) *Runner {
	r := &Runner{operator: operator, be: be, emitter: emitter, now: time.Now}
	r.guard = session.NewGuard(be, func() time.Time { return r.now() })
	return r
}

// SetClock replaces the local clock.
func (r *Runner) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Current returns the operator's open session, or nil when idle.
func (r *Runner) Current(ctx context.Context) (*session.LiveSession, error) {
	status, err := r.be.GetLiveStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("read live status: %w", err)
	}
	return status.For(r.operator), nil
}

// StartDeadTime opens a dead time when the operator has nothing else open.
func (r *Runner) StartDeadTime(ctx context.Context, code, description, linkage string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code == "" {
		return 0, fmt.Errorf("dead time code is required")
	}
	if _, err := r.guard.Require(ctx, r.operator, session.IntentDeadTime); err != nil {
		return 0, err
	}
	id, err := r.be.StartDeadTime(ctx, backend.DeadTimeRequest{
		Username:    r.operator,
		Code:        code,
		Description: description,
		Linkage:     linkage,
	})
	if err != nil {
		return 0, fmt.Errorf("start dead time: %w", err)
	}
	if r.emitter != nil {
		r.emitter.EmitDeadTimeStarted(r.operator, id, code)
	}
	return id, nil
}

// StopDeadTime closes the operator's open dead time.
func (r *Runner) StopDeadTime(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if ls == nil || ls.Kind != session.KindDeadTime {
		return ErrNoDeadTime
	}
	id := ls.DeadTime.ID
	if err := r.be.FinishDeadTime(ctx, id); err != nil {
		return fmt.Errorf("finish dead time %d: %w", id, err)
	}
	if r.emitter != nil {
		r.emitter.EmitDeadTimeStopped(r.operator, id)
	}
	return nil
}

// StartPhase opens a single-phase session and its log. The phase must have
// a startable quantity; exclusivity is checked before the sheet is read and
// again right before the live session is opened.
func (r *Runner) StartPhase(ctx context.Context, qr, phaseID, position string, stage production.Stage) (*production.PhaseLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.guard.Require(ctx, r.operator, session.IntentSinglePhase); err != nil {
		return nil, err
	}
	sheet, err := r.be.GetProductionSheetByQr(ctx, qr)
	if err != nil {
		return nil, fmt.Errorf("resolve sheet %q: %w", qr, err)
	}
	if _, ok := sheet.Phase(phaseID, position); !ok {
		return nil, fmt.Errorf("phase %s/%s not on sheet %s: %w", phaseID, position, qr, backend.ErrNotFound)
	}
	if production.Remaining(sheet, phaseID, position, nil) <= 0 {
		return nil, fmt.Errorf("start %s/%s on %s: %w", phaseID, position, qr, production.ErrNothingRemaining)
	}
	if stage == "" {
		stage = production.StageProduction
	}

	if _, err := r.guard.Require(ctx, r.operator, session.IntentSinglePhase); err != nil {
		return nil, err
	}
	start, err := r.be.StartLivePhase(ctx, backend.LivePhaseRequest{
		Username: r.operator,
		Kind:     session.KindSingle,
		SheetID:  sheet.ID,
		QRCode:   sheet.QRCode,
		PhaseID:  phaseID,
		Position: position,
		Stage:    stage,
	})
	if err != nil {
		return nil, fmt.Errorf("start live session: %w", err)
	}
	l, err := r.be.StartPhase(ctx, backend.StartPhaseRequest{
		SheetID:   sheet.ID,
		PhaseID:   phaseID,
		Position:  position,
		Operator:  r.operator,
		Stage:     stage,
		StartTime: start,
	})
	if err != nil {
		if serr := r.be.StopLivePhase(ctx, r.operator); serr != nil {
			log.Printf("activity: roll back live session for %s: %v", r.operator, serr)
		}
		return nil, fmt.Errorf("start log: %w", err)
	}
	if r.emitter != nil {
		r.emitter.EmitPhaseStarted(r.operator, l.ID, phaseID, position)
	}
	return l, nil
}

// FinishPhase closes the operator's active phase with the entered quantity,
// bounded by what remains at the phase. An invalid quantity changes nothing.
func (r *Runner) FinishPhase(ctx context.Context, rawQuantity string) (*production.PhaseLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, err := r.be.GetLiveStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("read live status: %w", err)
	}
	ap, err := r.be.GetMyActivePhase(ctx)
	if err != nil {
		return nil, fmt.Errorf("read active phase: %w", err)
	}
	if ap == nil || ap.Active == nil {
		return nil, ErrNoActivePhase
	}
	l := *ap.Active

	limit := math.MaxInt
	if ls := status.For(r.operator); ls != nil && ls.Single != nil && ls.Single.QRCode != "" {
		sheet, err := r.be.GetProductionSheetByQr(ctx, ls.Single.QRCode)
		if err != nil {
			return nil, fmt.Errorf("resolve sheet %q: %w", ls.Single.QRCode, err)
		}
		self := []production.JobItem{{Sheet: sheet.Ref(), PhaseID: l.PhaseID, Position: l.Position}}
		limit = production.Remaining(sheet, l.PhaseID, l.Position, self)
	}
	qty, err := production.ParseQuantity(rawQuantity, limit)
	if err != nil {
		return nil, err
	}

	end := status.ServerTime
	if end.IsZero() {
		end = r.now()
	}
	dur := int64(end.Sub(l.StartTime) / time.Second)
	if dur < 0 {
		dur = 0
	}
	if err := r.be.FinishPhase(ctx, backend.FinishPhaseRequest{ID: l.ID, EndTime: end, QuantityDone: qty, DurationSeconds: dur}); err != nil {
		return nil, fmt.Errorf("finish log %d: %w", l.ID, err)
	}
	if err := r.be.StopLivePhase(ctx, r.operator); err != nil {
		return nil, fmt.Errorf("stop live session: %w", err)
	}
	l.EndTime = &end
	l.QuantityDone = qty
	if r.emitter != nil {
		r.emitter.EmitPhaseFinished(r.operator, l.ID, qty, dur)
	}
	return &l, nil
}
