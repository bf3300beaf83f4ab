package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"phasetrack/config"
	"phasetrack/production"
	"phasetrack/session"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

var t0 = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

func testSheet(t *testing.T, db *DB, qr string) *production.ProductionSheet {
	t.Helper()
	s := &production.ProductionSheet{
		QRCode: qr, OrderNumber: "ORD-1", SheetNumber: "1", ProductID: "P-100", Quantity: 50,
		Phases: []production.Phase{
			production.Active(production.PhaseDefinition{PhaseID: "CUT", Position: "10", ProductionPosition: "10", SetupTime: 5, ProductionTimePerPiece: 2}),
			production.Deleted("15"),
			production.Active(production.PhaseDefinition{PhaseID: "BEND", Position: "20", ProductionPosition: "20", ProductionTimePerPiece: 1.5}),
		},
	}
	if err := db.CreateSheet(s); err != nil {
		t.Fatalf("create sheet: %v", err)
	}
	return s
}

// --- Operator tests ---

func TestOperatorAuthenticate(t *testing.T) {
	db := testDB(t)
	if ok, _ := db.OperatorExists(); ok {
		t.Fatal("fresh db should have no operators")
	}
	if _, err := db.CreateOperator("anna", "Anna K.", "s3cret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	o, err := db.Authenticate("anna", "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if o.DisplayName != "Anna K." || o.PasswordHash == "s3cret" {
		t.Errorf("operator = %+v", o)
	}
	if _, err := db.Authenticate("anna", "wrong"); err == nil {
		t.Error("wrong password should fail")
	}
	if _, err := db.Authenticate("nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown operator: err = %v, want ErrNotFound", err)
	}
}

// --- Sheet tests ---

func TestSheetRoundTrip(t *testing.T) {
	db := testDB(t)
	s := testSheet(t, db, "ORD-1/1")
	if s.ID == 0 {
		t.Fatal("ID should be assigned")
	}

	got, err := db.GetSheetByQR("ORD-1/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Quantity != 50 || got.ProductID != "P-100" {
		t.Errorf("sheet = %+v", got)
	}
	if len(got.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(got.Phases))
	}
	if pos, ok := got.Phases[1].OriginalPosition(); !ok || pos != "15" {
		t.Errorf("phase 1 should be a tombstone at 15, got %+v", got.Phases[1])
	}
	def, ok := got.Phase("CUT", "10")
	if !ok || def.SetupTime != 5 || def.ProductionTimePerPiece != 2 {
		t.Errorf("CUT = %+v, %v", def, ok)
	}

	if _, err := db.GetSheetByQR("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing sheet: err = %v, want ErrNotFound", err)
	}
	if err := db.CreateSheet(&production.ProductionSheet{QRCode: "ORD-1/1"}); err == nil {
		t.Error("duplicate QR code should fail")
	}
}

// --- Phase log tests ---

func TestPhaseLogLifecycle(t *testing.T) {
	db := testDB(t)
	s := testSheet(t, db, "ORD-1/1")

	l, err := db.StartPhaseLog(s.ID, "CUT", "10", "anna", "", t0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if l.Stage != production.StageProduction {
		t.Errorf("Stage = %q, want production default", l.Stage)
	}
	open, err := db.OpenPhaseLog("anna")
	if err != nil || open == nil || open.ID != l.ID {
		t.Fatalf("open log = %+v, %v", open, err)
	}
	if !open.StartTime.Equal(t0) {
		t.Errorf("StartTime = %v, want %v", open.StartTime, t0)
	}

	end := t0.Add(90 * time.Second)
	if err := db.FinishPhaseLog(l.ID, end, 12, 90); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// A retried finish lands on the same row.
	if err := db.FinishPhaseLog(l.ID, end, 12, 90); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if open, _ := db.OpenPhaseLog("anna"); open != nil {
		t.Errorf("no open log expected, got %+v", open)
	}

	sheet, _ := db.GetSheetByQR("ORD-1/1")
	if len(sheet.Logs) != 1 || sheet.Logs[0].QuantityDone != 12 || !sheet.Logs[0].EndTime.Equal(end) {
		t.Errorf("logs = %+v", sheet.Logs)
	}
	if got := production.Remaining(sheet, "BEND", "20", nil); got != 12 {
		t.Errorf("Remaining(BEND) = %d, want 12", got)
	}

	if err := db.FinishPhaseLog(999, end, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing log: err = %v, want ErrNotFound", err)
	}
	if _, err := db.StartPhaseLog(999, "CUT", "10", "anna", "", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing sheet: err = %v, want ErrNotFound", err)
	}
}

// --- Live session tests ---

func TestLiveSessionExclusive(t *testing.T) {
	db := testDB(t)
	db.CreateOperator("anna", "", "x")
	db.CreateOperator("ben", "", "x")

	if err := db.StartLiveSession(&LiveSessionRow{Username: "anna", Kind: session.KindMulti, StartTime: t0}); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := db.StartLiveSession(&LiveSessionRow{Username: "anna", Kind: session.KindSingle, StartTime: t0})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second session: err = %v, want ErrBusy", err)
	}
	d := &DeadTime{Username: "anna", Code: "MAINT", StartTime: t0}
	if err := db.StartDeadTime(d); !errors.Is(err, ErrBusy) {
		t.Fatalf("dead time while running: err = %v, want ErrBusy", err)
	}

	st, err := db.LiveStatus(t0.Add(75 * time.Second))
	if err != nil {
		t.Fatalf("live status: %v", err)
	}
	if len(st.Active) != 1 || st.Active[0].Status != session.StatusMulti || st.Active[0].RunningSeconds != 75 {
		t.Errorf("active = %+v", st.Active)
	}
	if len(st.Idle) != 1 || st.Idle[0] != "ben" {
		t.Errorf("idle = %v, want [ben]", st.Idle)
	}

	stopped, err := db.StopLiveSession("anna")
	if err != nil || stopped == nil || stopped.Kind != session.KindMulti {
		t.Fatalf("stop = %+v, %v", stopped, err)
	}
	if stopped, err := db.StopLiveSession("anna"); err != nil || stopped != nil {
		t.Errorf("stop again = %+v, %v, want nil, nil", stopped, err)
	}
}

func TestDeadTimeBlocksLiveSession(t *testing.T) {
	db := testDB(t)
	d := &DeadTime{Username: "anna", Code: "BREAK", Description: "lunch", StartTime: t0}
	if err := db.StartDeadTime(d); err != nil {
		t.Fatalf("start dead time: %v", err)
	}
	if d.ID == 0 {
		t.Fatal("ID should be assigned")
	}
	if err := db.StartDeadTime(&DeadTime{Username: "anna", Code: "BREAK", StartTime: t0}); !errors.Is(err, ErrBusy) {
		t.Errorf("second dead time: err = %v, want ErrBusy", err)
	}
	if err := db.StartLiveSession(&LiveSessionRow{Username: "anna", Kind: session.KindSingle, StartTime: t0}); !errors.Is(err, ErrBusy) {
		t.Errorf("session during dead time: err = %v, want ErrBusy", err)
	}

	st, _ := db.LiveStatus(t0.Add(time.Minute))
	if len(st.Dead) != 1 || st.Dead[0].Code != "BREAK" || st.Dead[0].RunningSeconds != 60 {
		t.Errorf("dead = %+v", st.Dead)
	}

	fin, err := db.FinishDeadTime(d.ID, t0.Add(time.Minute))
	if err != nil || fin.EndTime == nil {
		t.Fatalf("finish = %+v, %v", fin, err)
	}
	if _, err := db.FinishDeadTime(d.ID, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("finish twice: err = %v, want ErrNotFound", err)
	}
	if err := db.StartLiveSession(&LiveSessionRow{Username: "anna", Kind: session.KindSingle, StartTime: t0}); err != nil {
		t.Errorf("session after dead time: %v", err)
	}
}

// --- Job list tests ---

func TestJobListUpsert(t *testing.T) {
	db := testDB(t)
	if l, err := db.GetJobList("anna"); err != nil || l != nil {
		t.Fatalf("empty = %+v, %v", l, err)
	}
	items := []production.JobItem{
		{Sheet: production.SheetRef{SheetID: 1, QRCode: "A"}, PhaseID: "CUT", Position: "10", Stage: production.StageProduction},
	}
	if err := db.SaveJobList(&StoredJobList{SessionID: "s-1", Username: "anna", Items: items, UpdatedAt: t0}); err != nil {
		t.Fatalf("save: %v", err)
	}
	items = append(items, production.JobItem{Sheet: production.SheetRef{SheetID: 2, QRCode: "B"}, PhaseID: "CUT", Position: "10", LogID: 7})
	if err := db.SaveJobList(&StoredJobList{SessionID: "s-1", Username: "anna", Items: items, UpdatedAt: t0.Add(time.Second)}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := db.GetJobList("anna")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 2 || got.Items[1].LogID != 7 || got.Items[1].Sheet.QRCode != "B" {
		t.Errorf("items = %+v", got.Items)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
	if err := db.ClearJobList("anna"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if l, _ := db.GetJobList("anna"); l != nil {
		t.Errorf("after clear = %+v", l)
	}
}

// --- Station tests ---

func TestStationHeartbeat(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertStation("line-1.press-4", "line-1", "host-a", "1.0", []string{"anna"}, t0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.UpsertStation("line-1.press-4", "line-1", "host-a", "1.1", nil, t0.Add(time.Minute)); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	stations, err := db.ListStations()
	if err != nil || len(stations) != 1 {
		t.Fatalf("stations = %+v, %v", stations, err)
	}
	s := stations[0]
	if s.Version != "1.1" || len(s.Operators) != 0 || !s.RegisteredAt.Equal(t0) {
		t.Errorf("station = %+v", s)
	}

	n, err := db.MarkStaleStations(t0.Add(10*time.Minute), 5*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("mark stale = %d, %v", n, err)
	}
	stations, _ = db.ListStations()
	if stations[0].Status != "stale" {
		t.Errorf("Status = %q, want stale", stations[0].Status)
	}
}

// --- Outbox tests ---

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)
	id, err := db.EnqueueEvent("phasetrack/events", "phase.finished", "core", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	events, err := db.PendingEvents(10, 3)
	if err != nil || len(events) != 1 {
		t.Fatalf("pending = %v, %v", events, err)
	}
	ev := events[0]
	if ev.ID != id || ev.EventType != "phase.finished" || ev.Source != "core" || string(ev.Payload) != `{"a":1}` || ev.CreatedAt.IsZero() {
		t.Errorf("event = %+v", ev)
	}

	if err := db.RecordEventFailure(id, errors.New("broker down")); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkEventSent(id); err != nil {
		t.Fatal(err)
	}
	if events, _ := db.PendingEvents(10, 3); len(events) != 0 {
		t.Errorf("pending after send = %d", len(events))
	}
	got, err := db.GetEvent(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.SentAt == nil || got.Attempts != 1 || got.LastError != "" {
		t.Errorf("sent event = %+v", got)
	}
	if err := db.MarkEventSent(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second mark: err = %v, want ErrNotFound", err)
	}
}

func TestOutboxParksEventsPastAttemptLimit(t *testing.T) {
	db := testDB(t)
	parked, _ := db.EnqueueEvent("events", "session.changed", "core", []byte(`{}`))
	db.EnqueueEvent("events", "session.changed", "core", []byte(`{}`))
	for i := 0; i < 2; i++ {
		db.RecordEventFailure(parked, errors.New("timeout"))
	}

	events, err := db.PendingEvents(10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID == parked {
		t.Errorf("pending = %+v, want only the event under the limit", events)
	}
	ev, err := db.GetEvent(parked)
	if err != nil || ev.LastError != "timeout" || ev.SentAt != nil {
		t.Errorf("parked event = %+v, %v", ev, err)
	}
}

func TestRebind(t *testing.T) {
	got := Rebind(`UPDATE phase_logs SET quantity_done=?, end_time=? WHERE id=?`)
	want := `UPDATE phase_logs SET quantity_done=$1, end_time=$2 WHERE id=$3`
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}
	if q := `SELECT 1`; Rebind(q) != q {
		t.Errorf("Rebind without placeholders changed the query")
	}
}
