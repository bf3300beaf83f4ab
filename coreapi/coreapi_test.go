package coreapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"phasetrack/activity"
	"phasetrack/backend"
	"phasetrack/config"
	"phasetrack/livestate"
	"phasetrack/production"
	"phasetrack/session"
	"phasetrack/store"
)

var t0 = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

type phaseRecorder struct {
	finished []production.PhaseLog
}

func (p *phaseRecorder) EmitPhaseFinished(l production.PhaseLog, durationSeconds int64) {
	p.finished = append(p.finished, l)
}

type testEnv struct {
	db  *store.DB
	srv *httptest.Server
	rec *phaseRecorder
	now *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, u := range []string{"ben", "anna"} {
		if _, err := db.CreateOperator(u, u, "secret"); err != nil {
			t.Fatalf("create operator %s: %v", u, err)
		}
	}
	sheet := &production.ProductionSheet{
		QRCode: "ORD-9/1", OrderNumber: "ORD-9", SheetNumber: "1", Quantity: 20,
		Phases: []production.Phase{
			production.Active(production.PhaseDefinition{PhaseID: "CUT", Position: "10", ProductionPosition: "10"}),
			production.Active(production.PhaseDefinition{PhaseID: "PAINT", Position: "20", ProductionPosition: "20"}),
		},
	}
	if err := db.CreateSheet(sheet); err != nil {
		t.Fatalf("create sheet: %v", err)
	}

	now := t0
	rec := &phaseRecorder{}
	s := NewServer(db, livestate.NewManager(db, nil, nil), rec, "test-secret", time.Hour)
	s.SetClock(func() time.Time { return now })
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{db: db, srv: srv, rec: rec, now: &now}
}

func (e *testEnv) login(t *testing.T, user string) *backend.Client {
	t.Helper()
	c := backend.NewClient(e.srv.URL, 5*time.Second)
	if err := c.Login(context.Background(), user, "secret"); err != nil {
		t.Fatalf("login %s: %v", user, err)
	}
	return c
}

func TestRequiresLogin(t *testing.T) {
	e := newTestEnv(t)
	c := backend.NewClient(e.srv.URL, 5*time.Second)
	ctx := context.Background()

	if _, err := c.GetLiveStatus(ctx); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("live status: err = %v, want ErrUnauthorized", err)
	}
	if err := c.Login(ctx, "ben", "wrong"); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("bad password: err = %v, want ErrUnauthorized", err)
	}
	if err := c.Login(ctx, "ben", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.GetLiveStatus(ctx); err != nil {
		t.Errorf("live status after login: %v", err)
	}
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.GetLiveStatus(ctx); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("after logout: err = %v, want ErrUnauthorized", err)
	}
}

func TestSinglePhaseRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "ben")
	ctx := context.Background()

	sheet, err := c.GetProductionSheetByQr(ctx, "ORD-9/1")
	if err != nil {
		t.Fatalf("sheet: %v", err)
	}
	if len(sheet.Phases) != 2 || sheet.Quantity != 20 {
		t.Fatalf("sheet = %+v", sheet)
	}

	start, err := c.StartLivePhase(ctx, backend.LivePhaseRequest{
		Username: "ben", Kind: session.KindSingle, SheetID: sheet.ID, QRCode: sheet.QRCode, PhaseID: "CUT", Position: "10",
	})
	if err != nil {
		t.Fatalf("start live phase: %v", err)
	}
	if !start.Equal(t0) {
		t.Errorf("start = %v, want server clock %v", start, t0)
	}
	if _, err := c.StartLivePhase(ctx, backend.LivePhaseRequest{Username: "ben", Kind: session.KindMulti}); !errors.Is(err, session.ErrExclusivityConflict) {
		t.Errorf("second live session: err = %v, want conflict", err)
	}
	if _, err := c.StartDeadTime(ctx, backend.DeadTimeRequest{Username: "ben", Code: "MAINT"}); !errors.Is(err, session.ErrExclusivityConflict) {
		t.Errorf("dead time during phase: err = %v, want conflict", err)
	}

	l, err := c.StartPhase(ctx, backend.StartPhaseRequest{SheetID: sheet.ID, PhaseID: "CUT", Position: "10", Operator: "ben"})
	if err != nil {
		t.Fatalf("start phase: %v", err)
	}
	if !l.StartTime.Equal(t0) || l.Stage != production.StageProduction {
		t.Errorf("log = %+v", l)
	}

	*e.now = t0.Add(5 * time.Minute)
	ls, err := c.GetLiveStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cur := ls.For("ben")
	if cur == nil || cur.Kind != session.KindSingle || cur.RunningSeconds != 300 {
		t.Fatalf("live session = %+v", cur)
	}
	ap, err := c.GetMyActivePhase(ctx)
	if err != nil || ap.Active == nil || ap.Active.ID != l.ID {
		t.Fatalf("active phase = %+v, %v", ap, err)
	}

	if err := c.FinishPhase(ctx, backend.FinishPhaseRequest{ID: l.ID, QuantityDone: 8, DurationSeconds: 300}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := c.StopLivePhase(ctx, "ben"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(e.rec.finished) != 1 || e.rec.finished[0].QuantityDone != 8 {
		t.Errorf("emitted = %+v", e.rec.finished)
	}

	sheet, err = c.GetProductionSheetByQr(ctx, "ORD-9/1")
	if err != nil {
		t.Fatal(err)
	}
	if got := production.Remaining(sheet, "CUT", "10", nil); got != 12 {
		t.Errorf("remaining CUT = %d, want 12", got)
	}
	if got := production.Remaining(sheet, "PAINT", "20", nil); got != 8 {
		t.Errorf("remaining PAINT = %d, want 8", got)
	}
}

func TestPhaseLogValidation(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "ben")
	ctx := context.Background()

	if _, err := c.StartPhase(ctx, backend.StartPhaseRequest{SheetID: 999, PhaseID: "CUT", Position: "10"}); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("unknown sheet: err = %v, want ErrNotFound", err)
	}
	sheet, _ := e.db.GetSheetByQR("ORD-9/1")
	if _, err := c.StartPhase(ctx, backend.StartPhaseRequest{SheetID: sheet.ID, PhaseID: "WELD", Position: "30"}); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("unknown phase: err = %v, want ErrNotFound", err)
	}
	if err := c.FinishPhase(ctx, backend.FinishPhaseRequest{ID: 12345}); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("unknown log: err = %v, want ErrNotFound", err)
	}
}

func TestCannotActForAnotherOperator(t *testing.T) {
	e := newTestEnv(t)
	ben := e.login(t, "ben")
	anna := e.login(t, "anna")
	ctx := context.Background()

	if _, err := ben.StartLivePhase(ctx, backend.LivePhaseRequest{Username: "anna", Kind: session.KindMulti}); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("start for anna: err = %v, want ErrUnauthorized", err)
	}
	id, err := anna.StartDeadTime(ctx, backend.DeadTimeRequest{Username: "anna", Code: "BREAK"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ben.FinishDeadTime(ctx, id); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("ben finishing anna's dead time: err = %v, want ErrUnauthorized", err)
	}
	if err := anna.FinishDeadTime(ctx, id); err != nil {
		t.Fatalf("finish own dead time: %v", err)
	}
	if err := anna.FinishDeadTime(ctx, id); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("finish twice: err = %v, want ErrNotFound", err)
	}
}

func TestMultiSessionStorage(t *testing.T) {
	e := newTestEnv(t)
	ben := e.login(t, "ben")
	anna := e.login(t, "anna")
	ctx := context.Background()

	ms, err := ben.GetMyMultiSession(ctx)
	if err != nil || ms != nil {
		t.Fatalf("empty session = %+v, %v", ms, err)
	}
	items := []production.JobItem{
		{Sheet: production.SheetRef{SheetID: 1, QRCode: "ORD-9/1"}, PhaseID: "CUT", Position: "10"},
		{Sheet: production.SheetRef{SheetID: 1, QRCode: "ORD-9/1"}, PhaseID: "PAINT", Position: "20", LogID: 7},
	}
	if err := ben.SaveMultiSession(ctx, backend.MultiSession{ID: "ms-1", Username: "ben", Items: items}); err != nil {
		t.Fatalf("save: %v", err)
	}
	ms, err = ben.GetMyMultiSession(ctx)
	if err != nil || ms == nil {
		t.Fatalf("stored = %+v, %v", ms, err)
	}
	if ms.ID != "ms-1" || len(ms.Items) != 2 || ms.Items[1].LogID != 7 || !ms.UpdatedAt.Equal(t0) {
		t.Errorf("stored = %+v", ms)
	}
	if other, err := anna.GetMyMultiSession(ctx); err != nil || other != nil {
		t.Errorf("anna sees %+v, %v", other, err)
	}
	if err := ben.ClearMyMultiSession(ctx); err != nil {
		t.Fatal(err)
	}
	if ms, _ := ben.GetMyMultiSession(ctx); ms != nil {
		t.Errorf("after clear = %+v", ms)
	}
}

// httpClient logs in with a plain cookie-jar client for raw requests.
func (e *testEnv) httpClient(t *testing.T, user string) *http.Client {
	t.Helper()
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	resp, err := hc.Post(e.srv.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"`+user+`","password":"secret"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	return hc
}

func TestImportSheetAcceptsLegacyPayload(t *testing.T) {
	e := newTestEnv(t)
	hc := e.httpClient(t, "ben")

	body := `{"qrCode":"ORD-12/3","orderNumber":"ORD-12","sheetNumber":3,"qty":"40","phases":[
		{"phaseId":"CUT","position":10,"productionPosition":"10","setup":"120"},
		{"phaseId":"DRILL","position":"20","productionPosition":"-1"},
		{"phaseId":"BEND","position":"30","productionPosition":"30","perPiece":1.5}]}`
	resp, err := hc.Post(e.srv.URL+"/api/sheets", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	sheet, err := e.db.GetSheetByQR("ORD-12/3")
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Quantity != 40 || sheet.SheetNumber != "3" || len(sheet.Phases) != 3 {
		t.Fatalf("sheet = %+v", sheet)
	}
	if !sheet.Phases[1].IsDeleted() {
		t.Error("DRILL should be stored as deleted")
	}
	def, ok := sheet.Phase("BEND", "30")
	if !ok || def.ProductionTimePerPiece != 1.5 {
		t.Errorf("BEND = %+v, %v", def, ok)
	}
}

func TestDashboardListsOpenActivities(t *testing.T) {
	e := newTestEnv(t)
	ben := e.login(t, "ben")
	ctx := context.Background()
	if _, err := ben.StartDeadTime(ctx, backend.DeadTimeRequest{Username: "ben", Code: "MAINT"}); err != nil {
		t.Fatal(err)
	}
	hc := e.httpClient(t, "anna")
	resp, err := hc.Get(e.srv.URL + "/api/live-status/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), `"MAINT"`) {
		t.Errorf("dashboard = %d %s", resp.StatusCode, buf.String())
	}
}

// The station's single-phase runner works unchanged against the real API.
func TestActivityRunnerAgainstServer(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "ben")
	ctx := context.Background()
	r := activity.NewRunner("ben", c, nil)
	r.SetClock(func() time.Time { return *e.now })

	l, err := r.StartPhase(ctx, "ORD-9/1", "CUT", "10", "")
	if err != nil {
		t.Fatalf("StartPhase: %v", err)
	}
	*e.now = t0.Add(2 * time.Minute)
	if _, err := r.FinishPhase(ctx, "25"); !errors.Is(err, production.ErrInvalidQuantity) {
		t.Fatalf("over-limit: err = %v, want ErrInvalidQuantity", err)
	}
	done, err := r.FinishPhase(ctx, "20")
	if err != nil {
		t.Fatalf("FinishPhase: %v", err)
	}
	if done.ID != l.ID || done.QuantityDone != 20 {
		t.Errorf("finished = %+v", done)
	}
	stored, err := e.db.GetPhaseLog(l.ID)
	if err != nil || stored.EndTime == nil || !stored.EndTime.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("stored log = %+v, %v", stored, err)
	}
	if cur, _ := r.Current(ctx); cur != nil {
		t.Errorf("operator still busy: %+v", cur)
	}
}
