package livestate

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"phasetrack/config"
	"phasetrack/production"
	"phasetrack/session"
	"phasetrack/store"
)

type mapMirror struct {
	mu      sync.Mutex
	entries map[string]Entry
	err     error
}

func newMapMirror() *mapMirror { return &mapMirror{entries: make(map[string]Entry)} }

func (m *mapMirror) SetEntry(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries[e.Username] = *e
	return nil
}

func (m *mapMirror) RemoveEntry(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, username)
	return m.err
}

func (m *mapMirror) ListEntries(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Entry
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *mapMirror) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

type mockEmitter struct {
	events []string
}

func (e *mockEmitter) EmitSessionChanged(username string, kind session.Kind, open bool) {
	state := "closed"
	if open {
		state = "open"
	}
	e.events = append(e.events, username+":"+string(kind)+":"+state)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

func TestManagerMirrorsLiveSessions(t *testing.T) {
	db := testDB(t)
	mirror := newMapMirror()
	em := &mockEmitter{}
	m := NewManager(db, mirror, em)
	ctx := context.Background()

	if err := m.StartLive(&store.LiveSessionRow{Username: "anna", Kind: session.KindMulti, StartTime: t0}); err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	if err := m.SaveJobList(&store.StoredJobList{Username: "anna", Items: []production.JobItem{{PhaseID: "CUT"}, {PhaseID: "BEND"}}}); err != nil {
		t.Fatalf("SaveJobList: %v", err)
	}
	d := &store.DeadTime{Username: "ben", Code: "MAINT", StartTime: t0.Add(time.Minute)}
	if err := m.StartDeadTime(d); err != nil {
		t.Fatalf("StartDeadTime: %v", err)
	}

	dash, err := m.Dashboard(ctx, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(dash) != 2 {
		t.Fatalf("dashboard = %+v", dash)
	}
	if dash[0].Username != "anna" || dash[0].Kind != session.KindMulti || dash[0].RunningSeconds != 120 || dash[0].Jobs != 2 {
		t.Errorf("anna = %+v", dash[0])
	}
	if dash[1].Code != "MAINT" || dash[1].RunningSeconds != 60 {
		t.Errorf("ben = %+v", dash[1])
	}

	if _, err := m.StopLive("anna"); err != nil {
		t.Fatalf("StopLive: %v", err)
	}
	if _, err := m.FinishDeadTime(d.ID, t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("FinishDeadTime: %v", err)
	}
	if len(mirror.entries) != 0 {
		t.Errorf("mirror should be empty, got %+v", mirror.entries)
	}
	want := []string{"anna:multi:open", "ben:dead_time:open", "anna:multi:closed", "ben:dead_time:closed"}
	if len(em.events) != len(want) {
		t.Fatalf("events = %v, want %v", em.events, want)
	}
	for i := range want {
		if em.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, em.events[i], want[i])
		}
	}
}

func TestManagerBusyIsNotEmitted(t *testing.T) {
	db := testDB(t)
	em := &mockEmitter{}
	m := NewManager(db, nil, em)

	if err := m.StartLive(&store.LiveSessionRow{Username: "anna", Kind: session.KindSingle, StartTime: t0}); err != nil {
		t.Fatal(err)
	}
	err := m.StartLive(&store.LiveSessionRow{Username: "anna", Kind: session.KindMulti, StartTime: t0})
	if !errors.Is(err, store.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if len(em.events) != 1 {
		t.Errorf("events = %v, want only the first start", em.events)
	}
	if r, _ := m.StopLive("nobody"); r != nil {
		t.Errorf("StopLive(nobody) = %+v", r)
	}
}

func TestDashboardFallsBackToSQL(t *testing.T) {
	db := testDB(t)
	mirror := newMapMirror()
	m := NewManager(db, mirror, nil)
	if err := m.StartLive(&store.LiveSessionRow{Username: "anna", Kind: session.KindSingle, PhaseID: "CUT", Position: "10", StartTime: t0}); err != nil {
		t.Fatal(err)
	}
	mirror.err = errors.New("connection refused")

	dash, err := m.Dashboard(context.Background(), t0.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(dash) != 1 || dash[0].PhaseID != "CUT" || dash[0].RunningSeconds != 5 {
		t.Errorf("dashboard = %+v", dash)
	}
}

func TestSyncMirrorFromSQL(t *testing.T) {
	db := testDB(t)
	if err := db.StartLiveSession(&store.LiveSessionRow{Username: "anna", Kind: session.KindSingle, StartTime: t0}); err != nil {
		t.Fatal(err)
	}
	mirror := newMapMirror()
	mirror.entries["stale"] = Entry{Username: "stale"}
	m := NewManager(db, mirror, nil)

	if err := m.SyncMirrorFromSQL(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, ok := mirror.entries["stale"]; ok {
		t.Error("stale entry should be flushed")
	}
	if _, ok := mirror.entries["anna"]; !ok {
		t.Error("anna should be mirrored")
	}
}
