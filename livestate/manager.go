package livestate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"phasetrack/session"
	"phasetrack/store"
)

// EventEmitter is notified after an operator's live session changed.
type EventEmitter interface {
	EmitSessionChanged(username string, kind session.Kind, open bool)
}

// Manager provides write-through live state management: SQL first, then the
// mirror. A nil mirror keeps everything in SQL.
type Manager struct {
	db      *store.DB
	mirror  Mirror
	emitter EventEmitter
}

func NewManager(db *store.DB, mirror Mirror, emitter EventEmitter) *Manager {
	return &Manager{db: db, mirror: mirror, emitter: emitter}
}

// Status is the authoritative live status. It always reads SQL.
func (m *Manager) Status(now time.Time) (*session.LiveStatus, error) {
	return m.db.LiveStatus(now)
}

// StartLive opens a single-phase or multi-job session.
func (m *Manager) StartLive(r *store.LiveSessionRow) error {
	if err := m.db.StartLiveSession(r); err != nil {
		return err
	}
	m.refresh(r.Username)
	m.emit(r.Username, r.Kind, true)
	return nil
}

// StopLive closes the operator's session. It returns nil when there was none.
func (m *Manager) StopLive(username string) (*store.LiveSessionRow, error) {
	r, err := m.db.StopLiveSession(username)
	if err != nil {
		return nil, err
	}
	if r != nil {
		m.refresh(username)
		m.emit(username, r.Kind, false)
	}
	return r, nil
}

func (m *Manager) StartDeadTime(d *store.DeadTime) error {
	if err := m.db.StartDeadTime(d); err != nil {
		return err
	}
	m.refresh(d.Username)
	m.emit(d.Username, session.KindDeadTime, true)
	return nil
}

func (m *Manager) FinishDeadTime(id int64, end time.Time) (*store.DeadTime, error) {
	d, err := m.db.FinishDeadTime(id, end)
	if err != nil {
		return nil, err
	}
	m.refresh(d.Username)
	m.emit(d.Username, session.KindDeadTime, false)
	return d, nil
}

// SaveJobList stores the operator's pending picks and refreshes the job
// count shown for a running multi-job session.
func (m *Manager) SaveJobList(l *store.StoredJobList) error {
	if err := m.db.SaveJobList(l); err != nil {
		return err
	}
	m.refresh(l.Username)
	return nil
}

func (m *Manager) ClearJobList(username string) error {
	if err := m.db.ClearJobList(username); err != nil {
		return err
	}
	m.refresh(username)
	return nil
}

// Dashboard lists every open activity, preferring the mirror.
func (m *Manager) Dashboard(ctx context.Context, now time.Time) ([]DashboardEntry, error) {
	if m.mirror != nil {
		entries, err := m.mirror.ListEntries(ctx)
		if err == nil && len(entries) > 0 {
			return withRunning(entries, now), nil
		}
		if err != nil {
			log.Printf("livestate: read mirror: %v (falling back to sql)", err)
		}
	}
	entries, err := m.entriesFromSQL()
	if err != nil {
		return nil, err
	}
	return withRunning(entries, now), nil
}

// SyncMirrorFromSQL rebuilds the mirror from SQL. Called on startup.
func (m *Manager) SyncMirrorFromSQL(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}
	if err := m.mirror.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush mirror: %w", err)
	}
	entries, err := m.entriesFromSQL()
	if err != nil {
		return err
	}
	for i := range entries {
		if err := m.mirror.SetEntry(ctx, &entries[i]); err != nil {
			log.Printf("livestate: sync %s: %v", entries[i].Username, err)
		}
	}
	log.Printf("livestate: synced %d live entries to redis", len(entries))
	return nil
}

func (m *Manager) emit(username string, kind session.Kind, open bool) {
	if m.emitter != nil {
		m.emitter.EmitSessionChanged(username, kind, open)
	}
}

func (m *Manager) refresh(username string) {
	if m.mirror == nil {
		return
	}
	ctx := context.Background()
	e, err := m.entryFromSQL(username)
	if err != nil {
		log.Printf("livestate: refresh %s: %v", username, err)
		return
	}
	if e == nil {
		err = m.mirror.RemoveEntry(ctx, username)
	} else {
		err = m.mirror.SetEntry(ctx, e)
	}
	if err != nil {
		log.Printf("livestate: refresh %s: %v", username, err)
	}
}

func (m *Manager) entryFromSQL(username string) (*Entry, error) {
	r, err := m.db.GetLiveSession(username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if r != nil {
		e := liveEntry(r)
		if r.Kind == session.KindMulti {
			l, err := m.db.GetJobList(username)
			if err != nil {
				return nil, err
			}
			if l != nil {
				e.Jobs = len(l.Items)
			}
		}
		return &e, nil
	}
	dead, err := m.db.ListOpenDeadTimes()
	if err != nil {
		return nil, err
	}
	for _, d := range dead {
		if d.Username == username {
			e := deadEntry(&d)
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Manager) entriesFromSQL() ([]Entry, error) {
	live, err := m.db.ListLiveSessions()
	if err != nil {
		return nil, err
	}
	dead, err := m.db.ListOpenDeadTimes()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(live)+len(dead))
	for i := range live {
		e := liveEntry(&live[i])
		if live[i].Kind == session.KindMulti {
			if l, err := m.db.GetJobList(live[i].Username); err == nil && l != nil {
				e.Jobs = len(l.Items)
			}
		}
		entries = append(entries, e)
	}
	for i := range dead {
		entries = append(entries, deadEntry(&dead[i]))
	}
	return entries, nil
}

func liveEntry(r *store.LiveSessionRow) Entry {
	return Entry{
		Username:  r.Username,
		Kind:      r.Kind,
		SheetID:   r.SheetID,
		QRCode:    r.QRCode,
		PhaseID:   r.PhaseID,
		Position:  r.Position,
		Stage:     r.Stage,
		StartTime: r.StartTime,
	}
}

func deadEntry(d *store.DeadTime) Entry {
	return Entry{
		Username:  d.Username,
		Kind:      session.KindDeadTime,
		Code:      d.Code,
		StartTime: d.StartTime,
	}
}

func withRunning(entries []Entry, now time.Time) []DashboardEntry {
	out := make([]DashboardEntry, len(entries))
	for i, e := range entries {
		var secs int64
		if !e.StartTime.IsZero() && now.After(e.StartTime) {
			secs = int64(now.Sub(e.StartTime) / time.Second)
		}
		out[i] = DashboardEntry{Entry: e, RunningSeconds: secs}
	}
	return out
}
