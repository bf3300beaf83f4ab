package multijob

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"phasetrack/backend"
	"phasetrack/production"
	"phasetrack/session"
	"phasetrack/timesplit"

	"github.com/google/uuid"
)

// Builder is the multi-job state machine of one operator. All operations
// are serialized; the backend stays the source of truth for anything that
// outlives the process.
type Builder struct {
	mu       sync.Mutex
	operator string
	be       backend.Backend
	guard    *session.Guard
	emitter  EventEmitter
	saver    Saver
	now      func() time.Time

	state     State
	sessionID string
	items     []production.JobItem
	scanned   *production.ProductionSheet
	anchor    *session.Anchor
	blocked   *session.LiveSession
	orphan    *Orphan
	keptSince time.Time // start of an orphan the operator chose to leave running
	sheets    map[string]*production.ProductionSheet
}

// NewBuilder creates an idle builder for the operator. emitter and saver
// may be nil.
func NewBuilder(operator string, be backend.Backend, emitter EventEmitter, saver Saver) *Builder {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	b := &Builder{
		operator: operator,
		be:       be,
		emitter:  emitter,
		saver:    saver,
		now:      time.Now,
		state:    StateIdle,
		sheets:   make(map[string]*production.ProductionSheet),
	}
	b.guard = session.NewGuard(be, func() time.Time { return b.now() })
	return b
}

// SetClock replaces the local clock.
func (b *Builder) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Operator returns the operator this builder belongs to.
func (b *Builder) Operator() string { return b.operator }

// State returns the current state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the builder for display.
func (b *Builder) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Operator: b.operator,
		State:    b.state,
		Items:    append([]production.JobItem(nil), b.items...),
		Blocked:  b.blocked,
		Orphan:   b.orphan,
	}
	if b.state == StatePickPhase && b.scanned != nil {
		s.Sheet = b.scanned
		s.Eligible = b.eligibleLocked()
	}
	if b.anchor != nil {
		start := b.anchor.ServerStart
		s.StartedAt = &start
		s.ElapsedSeconds = b.anchor.ElapsedSeconds(b.now())
		s.Remaining = b.remainingLocked()
	}
	return s
}

// remainingLocked bounds each unlogged job's quantity with the last sheet
// seen for it. Logged jobs and jobs without a known sheet get 0.
func (b *Builder) remainingLocked() []int {
	out := make([]int, len(b.items))
	for i, it := range b.items {
		sheet, ok := b.sheets[it.Sheet.QRCode]
		if it.LogID != 0 || !ok {
			continue
		}
		out[i] = production.Remaining(sheet, it.PhaseID, it.Position, b.items)
	}
	return out
}

// Scan resolves a sheet by its QR code and moves to phase picking. Starting
// a new job list first checks that the operator is free.
func (b *Builder) Scan(ctx context.Context, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateIdle, StateBuild, StatePickPhase:
	default:
		return fmt.Errorf("%w: scan while %s", ErrInvalidState, b.state)
	}
	if b.state == StateIdle {
		if b.orphan != nil {
			return fmt.Errorf("%w: resolve the orphaned session first", ErrInvalidState)
		}
		if err := b.requireFree(ctx); err != nil {
			return err
		}
	}

	prev := b.state
	b.setState(StateScanning)
	sheet, err := b.be.GetProductionSheetByQr(ctx, code)
	if err != nil {
		b.setState(prev)
		return fmt.Errorf("resolve sheet %q: %w", code, err)
	}
	b.scanned = sheet
	b.sheets[code] = sheet
	b.setState(StatePickPhase)
	return nil
}

// Eligible lists the phases of the scanned sheet that can still be picked.
func (b *Builder) Eligible() ([]EligiblePhase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StatePickPhase {
		return nil, fmt.Errorf("%w: no sheet scanned", ErrInvalidState)
	}
	return b.eligibleLocked(), nil
}

func (b *Builder) eligibleLocked() []EligiblePhase {
	var out []EligiblePhase
	for _, def := range production.ExecutionFlow(b.scanned.Phases) {
		if production.IsPicked(b.items, b.scanned.ID, def.Key()) {
			continue
		}
		if n := production.Remaining(b.scanned, def.PhaseID, def.Position, b.items); n > 0 {
			out = append(out, EligiblePhase{PhaseDefinition: def, Remaining: n})
		}
	}
	return out
}

// Pick adds a phase of the scanned sheet and returns to the job list.
func (b *Builder) Pick(phaseID, position string, stage production.Stage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StatePickPhase {
		return fmt.Errorf("%w: pick while %s", ErrInvalidState, b.state)
	}
	sheet := b.scanned
	if production.IsPicked(b.items, sheet.ID, production.PhaseKey{PhaseID: phaseID, Position: position}) {
		return fmt.Errorf("%w: %s/%s on %s", ErrAlreadyPicked, phaseID, position, sheet.QRCode)
	}
	if production.Remaining(sheet, phaseID, position, b.items) <= 0 {
		return fmt.Errorf("pick %s/%s on %s: %w", phaseID, position, sheet.QRCode, production.ErrNothingRemaining)
	}
	if stage == "" {
		stage = production.StageProduction
	}
	if b.sessionID == "" {
		b.sessionID = uuid.NewString()
	}
	b.items = append(b.items, production.JobItem{
		Sheet:    sheet.Ref(),
		PhaseID:  phaseID,
		Position: position,
		Stage:    stage,
	})
	b.scanned = nil
	b.setState(StateBuild)
	b.jobsChanged()
	return nil
}

// CancelPick leaves phase picking without adding anything.
func (b *Builder) CancelPick() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StatePickPhase {
		return fmt.Errorf("%w: cancel pick while %s", ErrInvalidState, b.state)
	}
	b.scanned = nil
	if len(b.items) == 0 {
		b.setState(StateIdle)
	} else {
		b.setState(StateBuild)
	}
	return nil
}

// Remove drops the job at index from the list.
func (b *Builder) Remove(ctx context.Context, index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateBuild {
		return fmt.Errorf("%w: remove while %s", ErrInvalidState, b.state)
	}
	if b.anchor != nil {
		return fmt.Errorf("%w: job list is locked while its session is open", ErrInvalidState)
	}
	if index < 0 || index >= len(b.items) {
		return fmt.Errorf("remove job %d: index out of range", index)
	}
	b.items = append(b.items[:index:index], b.items[index+1:]...)
	if len(b.items) == 0 {
		b.discardLocked(ctx)
		return nil
	}
	b.jobsChanged()
	return nil
}

// Start opens the timed session. It needs at least MinJobs picks and a free
// operator, and checks exclusivity again right before committing.
func (b *Builder) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateBuild {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, b.state)
	}
	if len(b.items) < MinJobs {
		return fmt.Errorf("%w: have %d", ErrTooFewJobs, len(b.items))
	}

	if b.anchor != nil {
		// A stop failed earlier; the server session may still be open.
		v, err := b.guard.Check(ctx, b.operator, session.IntentMultiJob)
		if err != nil {
			return err
		}
		if v.MustResume {
			b.anchor.Skew = v.Skew
			b.setState(StateRunning)
			return nil
		}
		if v.Outcome != session.Ok {
			return b.blockedBy(v)
		}
		b.anchor = nil
	}

	if err := b.requireFree(ctx); err != nil {
		return err
	}

	if b.saver != nil {
		b.saver.Cancel()
	}
	if err := b.be.SaveMultiSession(ctx, b.multiSession()); err != nil {
		return fmt.Errorf("persist job list: %w", err)
	}

	v, err := b.guard.Check(ctx, b.operator, session.IntentMultiJob)
	if err != nil {
		return err
	}
	if v.Outcome != session.Ok {
		return b.blockedBy(v)
	}

	start, err := b.be.StartLivePhase(ctx, backend.LivePhaseRequest{Username: b.operator, Kind: session.KindMulti})
	if err != nil {
		if errors.Is(err, session.ErrExclusivityConflict) {
			b.blocked = &session.LiveSession{Kind: session.KindMulti, Operator: b.operator}
		}
		return fmt.Errorf("start live session: %w", err)
	}
	if start.IsZero() {
		start = v.ServerTime
	}
	if start.IsZero() {
		start = b.now().Add(v.Skew)
	}
	a := session.NewAnchor(start, v.Skew)
	b.anchor = &a
	b.blocked = nil
	b.setState(StateRunning)
	return nil
}

// Stop ends the running session: each job gets a quantity from the
// prompter, the elapsed time is split across the jobs and one log pair per
// job is written in job order. Declining a prompt returns to running; any
// backend failure returns to build with the job list intact.
func (b *Builder) Stop(ctx context.Context, p QuantityPrompter) (*SaveResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateRunning || b.anchor == nil {
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidState, b.state)
	}
	stopAt := b.anchor.ServerNow(b.now())
	b.setState(StateSaving)

	items := append([]production.JobItem(nil), b.items...)
	sheets, err := b.resolveSheets(ctx, items)
	if err != nil {
		return nil, b.failSave(err)
	}

	quantities := make([]int, len(items))
	weights := make([]float64, len(items))
	for i, it := range items {
		sheet := sheets[it.Sheet.QRCode]
		remaining := production.Remaining(sheet, it.PhaseID, it.Position, items)
		if def, ok := sheet.Phase(it.PhaseID, it.Position); ok {
			weights[i] = timesplit.Weight(def.SetupTime, def.ProductionTimePerPiece, remaining)
		}
		if it.LogID != 0 {
			continue
		}
		q, err := askQuantity(ctx, p, JobPrompt{Index: i, Item: it, Remaining: remaining})
		if err != nil {
			b.setState(StateRunning)
			if errors.Is(err, ErrCancelledByUser) {
				return nil, err
			}
			return nil, fmt.Errorf("quantity for job %d: %w", i+1, err)
		}
		quantities[i] = q
	}

	if b.assignSplits(stopAt, weights) {
		if err := b.persistLocked(ctx); err != nil {
			return nil, b.failSave(err)
		}
	}

	res := &SaveResult{
		LogIDs:     make([]int64, len(items)),
		Durations:  make([]int64, len(items)),
		Quantities: quantities,
	}
	for i := range b.items {
		it := b.items[i]
		if it.Split != nil {
			res.Durations[i] = it.Split.DurationSeconds
			res.TotalSeconds += it.Split.DurationSeconds
		}
		if it.LogID != 0 {
			res.LogIDs[i] = it.LogID
			continue
		}
		logID := it.OpenLogID
		if logID == 0 {
			l, err := b.be.StartPhase(ctx, backend.StartPhaseRequest{
				SheetID:   sheets[it.Sheet.QRCode].ID,
				PhaseID:   it.PhaseID,
				Position:  it.Position,
				Operator:  b.operator,
				Stage:     it.Stage,
				StartTime: it.Split.StartTime,
			})
			if err != nil {
				return nil, b.failSave(fmt.Errorf("start log for job %d: %w", i+1, err))
			}
			logID = l.ID
			b.items[i].OpenLogID = logID
			if err := b.persistLocked(ctx); err != nil {
				return nil, b.failSave(err)
			}
		}
		err := b.be.FinishPhase(ctx, backend.FinishPhaseRequest{
			ID:              logID,
			EndTime:         it.Split.End(),
			QuantityDone:    quantities[i],
			DurationSeconds: it.Split.DurationSeconds,
		})
		if err != nil {
			return nil, b.failSave(fmt.Errorf("finish log for job %d: %w", i+1, err))
		}
		b.items[i].OpenLogID = 0
		b.items[i].LogID = logID
		res.LogIDs[i] = logID
	}

	if err := b.be.StopLivePhase(ctx, b.operator); err != nil {
		return nil, b.failSave(fmt.Errorf("stop live session: %w", err))
	}
	if b.saver != nil {
		b.saver.Cancel()
	}
	if err := b.be.ClearMyMultiSession(ctx); err != nil {
		log.Printf("multijob: clear job list for %s: %v", b.operator, err)
	}

	b.resetLocked()
	b.setState(StateIdle)
	b.emitter.EmitSessionSaved(b.operator, *res)
	return res, nil
}

// assignSplits gives every job without a share its part of the session.
// Until some log has been started the whole session is split again, so a
// later stop covers the later stop time. After that the existing shares
// are fixed and only the time after the last of them is split across the
// remaining jobs. It reports whether any share changed.
func (b *Builder) assignSplits(stopAt time.Time, weights []float64) bool {
	committed := false
	for _, it := range b.items {
		if it.LogID != 0 || it.OpenLogID != 0 {
			committed = true
			break
		}
	}
	from := b.anchor.ServerStart
	var open []int
	for i, it := range b.items {
		switch {
		case !committed:
			open = append(open, i)
		case it.Split == nil:
			if it.LogID == 0 {
				open = append(open, i)
			}
		case it.Split.End().After(from):
			from = it.Split.End()
		}
	}
	if len(open) == 0 {
		return false
	}

	total := int64(stopAt.Sub(from) / time.Second)
	if total < 0 {
		total = 0
	}
	w := make([]float64, len(open))
	for j, i := range open {
		w[j] = weights[i]
	}
	at := from
	for j, d := range timesplit.Allocate(total, w) {
		b.items[open[j]].Split = &production.TimeSplit{StartTime: at, DurationSeconds: d}
		at = at.Add(time.Duration(d) * time.Second)
	}
	return true
}

// persistLocked stores the job list right away, replacing any pending
// autosave.
func (b *Builder) persistLocked(ctx context.Context) error {
	if b.saver != nil {
		b.saver.Cancel()
	}
	if err := b.be.SaveMultiSession(ctx, b.multiSession()); err != nil {
		return fmt.Errorf("persist job list: %w", err)
	}
	return nil
}

// failSave returns to build keeping the list, the anchor and the shares
// and logs already written, so the next start resumes and the next stop
// continues where this one ended.
func (b *Builder) failSave(err error) error {
	log.Printf("multijob: save session for %s: %v", b.operator, err)
	b.setState(StateBuild)
	b.jobsChanged()
	return err
}

// Abandon throws away a job list that has not been started. Once a session
// is open its time has to be logged by Stop; only ResolveOrphan ends one
// without logs.
func (b *Builder) Abandon(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateBuild, StatePickPhase:
	default:
		return fmt.Errorf("%w: abandon while %s", ErrInvalidState, b.state)
	}
	if b.anchor != nil {
		return fmt.Errorf("%w: the open session must be stopped", ErrInvalidState)
	}
	b.discardLocked(ctx)
	return nil
}

// discardLocked clears local and stored state and returns to idle.
func (b *Builder) discardLocked(ctx context.Context) {
	if b.saver != nil {
		b.saver.Cancel()
	}
	if err := b.be.ClearMyMultiSession(ctx); err != nil {
		log.Printf("multijob: clear job list for %s: %v", b.operator, err)
	}
	b.resetLocked()
	b.setState(StateIdle)
	b.emitter.EmitJobListChanged(b.operator, 0)
}

func (b *Builder) resetLocked() {
	b.items = nil
	b.scanned = nil
	b.anchor = nil
	b.sessionID = ""
	clear(b.sheets)
}

func (b *Builder) requireFree(ctx context.Context) error {
	v, err := b.guard.Check(ctx, b.operator, session.IntentMultiJob)
	if err != nil {
		return err
	}
	if v.Outcome != session.Ok {
		return b.blockedBy(v)
	}
	b.blocked = nil
	return nil
}

func (b *Builder) blockedBy(v session.Verdict) error {
	b.blocked = v.Session
	if v.Session != nil {
		b.emitter.EmitSessionBlocked(b.operator, v.Session.Kind)
	}
	return v.Err(b.operator)
}

// resolveSheets fetches a fresh snapshot per distinct QR code.
func (b *Builder) resolveSheets(ctx context.Context, items []production.JobItem) (map[string]*production.ProductionSheet, error) {
	sheets := make(map[string]*production.ProductionSheet)
	for _, it := range items {
		qr := it.Sheet.QRCode
		if _, ok := sheets[qr]; ok {
			continue
		}
		sheet, err := b.be.GetProductionSheetByQr(ctx, qr)
		if err != nil {
			return nil, fmt.Errorf("resolve sheet %q: %w", qr, err)
		}
		sheets[qr] = sheet
		b.sheets[qr] = sheet
	}
	return sheets, nil
}

func (b *Builder) multiSession() backend.MultiSession {
	return backend.MultiSession{
		ID:       b.sessionID,
		Username: b.operator,
		Items:    append([]production.JobItem(nil), b.items...),
	}
}

// jobsChanged schedules an autosave of a non-empty list and notifies.
func (b *Builder) jobsChanged() {
	if b.saver != nil && len(b.items) > 0 {
		b.saver.Schedule(b.multiSession())
	}
	b.emitter.EmitJobListChanged(b.operator, len(b.items))
}

func (b *Builder) setState(s State) {
	if s == b.state {
		return
	}
	old := b.state
	b.state = s
	b.emitter.EmitBuilderStateChanged(b.operator, old, s)
}
