// Package backendtest provides an in-memory Backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"phasetrack/backend"
	"phasetrack/production"
	"phasetrack/session"
)

// Fake is an in-memory backend acting for one operator. It enforces one
// live session per operator like the real server and records every call.
type Fake struct {
	mu       sync.Mutex
	operator string
	now      func() time.Time

	active []session.ActiveEntry
	dead   []session.DeadEntry
	sheets map[string]*production.ProductionSheet
	logs   []production.PhaseLog
	stored *backend.MultiSession
	nextID int64

	calls    []string
	failures map[string]error
	once     map[string][]error
}

var _ backend.Backend = (*Fake)(nil)

// New returns an empty fake for the operator using the given server clock.
func New(operator string, now func() time.Time) *Fake {
	if now == nil {
		now = time.Now
	}
	return &Fake{
		operator: operator,
		now:      now,
		sheets:   make(map[string]*production.ProductionSheet),
		failures: make(map[string]error),
		once:     make(map[string][]error),
		nextID:   100,
	}
}

// SetClock replaces the server clock.
func (f *Fake) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// AddSheet registers a sheet under its QR code.
func (f *Fake) AddSheet(s *production.ProductionSheet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[s.QRCode] = s
}

// SetActive replaces the running phase sessions.
func (f *Fake) SetActive(entries ...session.ActiveEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = entries
}

// SetDead replaces the open dead times.
func (f *Fake) SetDead(entries ...session.DeadEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = entries
}

// SetStored replaces the stored job list.
func (f *Fake) SetStored(ms *backend.MultiSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = ms
}

// Stored returns the stored job list.
func (f *Fake) Stored() *backend.MultiSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		return nil
	}
	ms := *f.stored
	ms.Items = append([]production.JobItem(nil), f.stored.Items...)
	return &ms
}

// Logs returns every log written so far.
func (f *Fake) Logs() []production.PhaseLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]production.PhaseLog(nil), f.logs...)
}

// Fail makes every call to method return err. A nil err clears it.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// FailOnce queues err for the next call to method.
func (f *Fake) FailOnce(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once[method] = append(f.once[method], err)
}

// Calls returns the method names called so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often method was called.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// call records the call and returns an injected failure. Caller holds mu.
func (f *Fake) call(method string) error {
	f.calls = append(f.calls, method)
	if q := f.once[method]; len(q) > 0 {
		f.once[method] = q[1:]
		return q[0]
	}
	return f.failures[method]
}

func (f *Fake) busy(username string) bool {
	for _, a := range f.active {
		if a.Username == username {
			return true
		}
	}
	for _, d := range f.dead {
		if d.Username == username {
			return true
		}
	}
	return false
}

func (f *Fake) GetLiveStatus(ctx context.Context) (*session.LiveStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetLiveStatus"); err != nil {
		return nil, err
	}
	now := f.now()
	ls := &session.LiveStatus{ServerTime: now}
	for _, a := range f.active {
		if !a.StartTime.IsZero() {
			a.RunningSeconds = int64(now.Sub(a.StartTime) / time.Second)
		}
		ls.Active = append(ls.Active, a)
	}
	for _, d := range f.dead {
		if !d.StartTime.IsZero() {
			d.RunningSeconds = int64(now.Sub(d.StartTime) / time.Second)
		}
		ls.Dead = append(ls.Dead, d)
	}
	if !f.busy(f.operator) {
		ls.Idle = append(ls.Idle, f.operator)
	}
	return ls, nil
}

func (f *Fake) GetMyActivePhase(ctx context.Context) (*session.ActivePhase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetMyActivePhase"); err != nil {
		return nil, err
	}
	for i := range f.logs {
		if f.logs[i].Operator == f.operator && f.logs[i].Open() {
			l := f.logs[i]
			return &session.ActivePhase{Active: &l}, nil
		}
	}
	return &session.ActivePhase{}, nil
}

func (f *Fake) StartLivePhase(ctx context.Context, req backend.LivePhaseRequest) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("StartLivePhase"); err != nil {
		return time.Time{}, err
	}
	if f.busy(req.Username) {
		return time.Time{}, fmt.Errorf("start live phase: %w", session.ErrExclusivityConflict)
	}
	now := f.now()
	status := "running"
	if req.Kind == session.KindMulti {
		status = session.StatusMulti
	}
	f.active = append(f.active, session.ActiveEntry{
		Username:  req.Username,
		Status:    status,
		SheetID:   req.SheetID,
		QRCode:    req.QRCode,
		PhaseID:   req.PhaseID,
		Position:  req.Position,
		Stage:     req.Stage,
		StartTime: now,
	})
	return now, nil
}

func (f *Fake) StopLivePhase(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("StopLivePhase"); err != nil {
		return err
	}
	kept := f.active[:0]
	for _, a := range f.active {
		if a.Username != username {
			kept = append(kept, a)
		}
	}
	f.active = kept
	return nil
}

func (f *Fake) StartPhase(ctx context.Context, req backend.StartPhaseRequest) (*production.PhaseLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("StartPhase"); err != nil {
		return nil, err
	}
	f.nextID++
	start := req.StartTime
	if start.IsZero() {
		start = f.now()
	}
	l := production.PhaseLog{
		ID:        f.nextID,
		SheetID:   req.SheetID,
		PhaseID:   req.PhaseID,
		Position:  req.Position,
		Operator:  req.Operator,
		StartTime: start,
		Stage:     req.Stage,
	}
	f.logs = append(f.logs, l)
	return &l, nil
}

func (f *Fake) FinishPhase(ctx context.Context, req backend.FinishPhaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("FinishPhase"); err != nil {
		return err
	}
	for i := range f.logs {
		if f.logs[i].ID == req.ID {
			end := req.EndTime
			if end.IsZero() {
				end = f.now()
			}
			f.logs[i].EndTime = &end
			f.logs[i].QuantityDone = req.QuantityDone
			return nil
		}
	}
	return fmt.Errorf("finish log %d: %w", req.ID, backend.ErrNotFound)
}

func (f *Fake) StartDeadTime(ctx context.Context, req backend.DeadTimeRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("StartDeadTime"); err != nil {
		return 0, err
	}
	if f.busy(req.Username) {
		return 0, fmt.Errorf("start dead time: %w", session.ErrExclusivityConflict)
	}
	f.nextID++
	f.dead = append(f.dead, session.DeadEntry{
		ID:          f.nextID,
		Username:    req.Username,
		Code:        req.Code,
		Description: req.Description,
		Linkage:     req.Linkage,
		StartTime:   f.now(),
	})
	return f.nextID, nil
}

func (f *Fake) FinishDeadTime(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("FinishDeadTime"); err != nil {
		return err
	}
	for i, d := range f.dead {
		if d.ID == id {
			f.dead = append(f.dead[:i], f.dead[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("finish dead time %d: %w", id, backend.ErrNotFound)
}

func (f *Fake) GetProductionSheetByQr(ctx context.Context, code string) (*production.ProductionSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetProductionSheetByQr"); err != nil {
		return nil, err
	}
	s, ok := f.sheets[code]
	if !ok {
		return nil, fmt.Errorf("sheet %q: %w", code, backend.ErrNotFound)
	}
	out := *s
	out.Phases = append([]production.Phase(nil), s.Phases...)
	out.Logs = append([]production.PhaseLog(nil), s.Logs...)
	for _, l := range f.logs {
		if l.SheetID == s.ID {
			out.Logs = append(out.Logs, l)
		}
	}
	return &out, nil
}

func (f *Fake) SaveMultiSession(ctx context.Context, ms backend.MultiSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SaveMultiSession"); err != nil {
		return err
	}
	ms.Items = append([]production.JobItem(nil), ms.Items...)
	ms.UpdatedAt = f.now()
	f.stored = &ms
	return nil
}

func (f *Fake) GetMyMultiSession(ctx context.Context) (*backend.MultiSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetMyMultiSession"); err != nil {
		return nil, err
	}
	if f.stored == nil {
		return nil, nil
	}
	ms := *f.stored
	ms.Items = append([]production.JobItem(nil), f.stored.Items...)
	return &ms, nil
}

func (f *Fake) ClearMyMultiSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ClearMyMultiSession"); err != nil {
		return err
	}
	f.stored = nil
	return nil
}
