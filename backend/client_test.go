package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

func testServer(handler http.HandlerFunc) (*httptest.Server, *Client) {
	srv := httptest.NewServer(handler)
	client := NewClient(srv.URL, 5*time.Second)
	return srv, client
}

func TestLoginKeepsCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["username"] != "anna" || req["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "phasecore_session", Value: "tok", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/active-phase", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("phasecore_session"); err != nil || c.Value != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "login required"})
			return
		}
		w.Write([]byte(`{"active":null}`))
	})
	srv, client := testServer(mux.ServeHTTP)
	defer srv.Close()

	ctx := context.Background()
	if _, err := client.GetMyActivePhase(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("before login: err = %v, want ErrUnauthorized", err)
	}
	if err := client.Login(ctx, "anna", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if client.Username() != "anna" {
		t.Errorf("Username = %q, want anna", client.Username())
	}
	ap, err := client.GetMyActivePhase(ctx)
	if err != nil {
		t.Fatalf("after login: %v", err)
	}
	if ap.Active != nil {
		t.Errorf("Active = %+v, want nil", ap.Active)
	}
}

func TestGetLiveStatusNormalizesPayload(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/live-status" {
			t.Errorf("path = %q, want /api/live-status", r.URL.Path)
		}
		w.Write([]byte(`{
			"active": [{"userName": "anna", "status": "multi", "runningSeconds": "42"},
			           {"username": "ben", "status": "running", "sheetId": "3", "phaseId": "CUT", "position": 10}],
			"deadTimes": [{"id": "9", "username": "cleo", "code": "MAINT"}],
			"idle": ["dora"],
			"serverTime": 1767225600
		}`))
	})
	defer srv.Close()

	ls, err := client.GetLiveStatus(context.Background())
	if err != nil {
		t.Fatalf("GetLiveStatus: %v", err)
	}
	if len(ls.Active) != 2 || ls.Active[0].Username != "anna" || ls.Active[0].RunningSeconds != 42 {
		t.Errorf("active[0] = %+v", ls.Active)
	}
	if ls.Active[1].SheetID != 3 || ls.Active[1].Position != "10" {
		t.Errorf("active[1] = %+v", ls.Active[1])
	}
	if len(ls.Dead) != 1 || ls.Dead[0].ID != 9 {
		t.Errorf("dead = %+v", ls.Dead)
	}
	if want := time.Unix(1767225600, 0); !ls.ServerTime.Equal(want) {
		t.Errorf("server time = %v, want %v", ls.ServerTime, want)
	}
	if s := ls.For("anna"); s == nil || s.Kind != session.KindMulti {
		t.Errorf("For(anna) = %+v, want multi session", s)
	}
}

func TestGetProductionSheetByQr(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("code"); got != "ORD 1/2" {
			t.Errorf("code = %q, want %q", got, "ORD 1/2")
		}
		w.Write([]byte(`{
			"id": 12, "qrCode": "ORD 1/2", "quantity": "100",
			"phases": [
				{"phaseId": "CUT", "position": "10", "productionPosition": "10", "setupTime": 5, "productionTimePerPiece": "0.5"},
				{"phaseId": "", "position": "20", "productionPosition": "-1"},
				{"phaseId": "WELD", "position": "30", "productionPosition": "20"}
			],
			"logs": [{"id": 1, "phaseId": "CUT", "position": "10", "quantityDone": "40", "startTime": "2026-01-05T08:00:00Z", "endTime": ""}]
		}`))
	})
	defer srv.Close()

	sheet, err := client.GetProductionSheetByQr(context.Background(), "ORD 1/2")
	if err != nil {
		t.Fatalf("GetProductionSheetByQr: %v", err)
	}
	if sheet.ID != 12 || sheet.Quantity != 100 || sheet.QRCode != "ORD 1/2" {
		t.Errorf("sheet = %+v", sheet)
	}
	if len(sheet.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(sheet.Phases))
	}
	if pos, ok := sheet.Phases[1].OriginalPosition(); !ok || pos != "20" {
		t.Errorf("phase[1] should be a tombstone at 20, got %+v", sheet.Phases[1])
	}
	def, ok := sheet.Phases[0].Definition()
	if !ok || def.ProductionTimePerPiece != 0.5 || def.SetupTime != 5 {
		t.Errorf("phase[0] = %+v", def)
	}
	if len(sheet.Logs) != 1 || sheet.Logs[0].QuantityDone != 40 || !sheet.Logs[0].Open() {
		t.Errorf("logs = %+v", sheet.Logs)
	}
	if got := production.Remaining(sheet, "WELD", "30", nil); got != 40 {
		t.Errorf("remaining at WELD = %d, want 40", got)
	}
}

func TestSheetNotFound(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown qr code"})
	})
	defer srv.Close()

	_, err := client.GetProductionSheetByQr(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "unknown qr code" {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, session.ErrExclusivityConflict},
		{http.StatusUnprocessableEntity, production.ErrNothingRemaining},
		{http.StatusBadGateway, ErrTransient},
		{http.StatusForbidden, ErrUnauthorized},
	}
	for _, tt := range tests {
		srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := client.StartLivePhase(context.Background(), LivePhaseRequest{Username: "anna", Kind: session.KindMulti})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestUnreachableIsTransient(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	if _, err := client.GetLiveStatus(context.Background()); !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestStartAndFinishPhase(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/phase-logs":
			var req StartPhaseRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.SheetID != 7 || req.PhaseID != "CUT" || !req.StartTime.Equal(start) {
				t.Errorf("start request = %+v", req)
			}
			json.NewEncoder(w).Encode(production.PhaseLog{ID: 55, SheetID: 7, PhaseID: "CUT", Position: "10", StartTime: start})
		case "/api/phase-logs/55/finish":
			var req FinishPhaseRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.QuantityDone != 12 || req.DurationSeconds != 90 || !req.EndTime.Equal(end) {
				t.Errorf("finish request = %+v", req)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})
	defer srv.Close()

	ctx := context.Background()
	log, err := client.StartPhase(ctx, StartPhaseRequest{SheetID: 7, PhaseID: "CUT", Position: "10", Operator: "anna", Stage: production.StageProduction, StartTime: start})
	if err != nil {
		t.Fatalf("StartPhase: %v", err)
	}
	if log.ID != 55 {
		t.Errorf("log ID = %d, want 55", log.ID)
	}
	if err := client.FinishPhase(ctx, FinishPhaseRequest{ID: log.ID, EndTime: end, QuantityDone: 12, DurationSeconds: 90}); err != nil {
		t.Fatalf("FinishPhase: %v", err)
	}
}

func TestMultiSessionRoundTrip(t *testing.T) {
	var stored []byte
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/multi-session" {
			t.Errorf("path = %q", r.URL.Path)
		}
		switch r.Method {
		case http.MethodPut:
			var ms MultiSession
			json.NewDecoder(r.Body).Decode(&ms)
			stored, _ = json.Marshal(map[string]any{"session": ms})
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			if stored == nil {
				w.Write([]byte(`{"session":null}`))
				return
			}
			w.Write(stored)
		case http.MethodDelete:
			stored = nil
			w.WriteHeader(http.StatusNoContent)
		}
	})
	defer srv.Close()

	ctx := context.Background()
	ms, err := client.GetMyMultiSession(ctx)
	if err != nil || ms != nil {
		t.Fatalf("empty: ms = %+v err = %v", ms, err)
	}

	items := []production.JobItem{
		{Sheet: production.SheetRef{SheetID: 1, QRCode: "A"}, PhaseID: "CUT", Position: "10"},
		{Sheet: production.SheetRef{SheetID: 2, QRCode: "B"}, PhaseID: "BEND", Position: "20"},
	}
	if err := client.SaveMultiSession(ctx, MultiSession{Username: "anna", Items: items}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ms, err = client.GetMyMultiSession(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ms == nil || len(ms.Items) != 2 || ms.Items[1].Sheet.QRCode != "B" {
		t.Fatalf("session = %+v", ms)
	}
	if err := client.ClearMyMultiSession(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ms, _ := client.GetMyMultiSession(ctx); ms != nil {
		t.Errorf("after clear: %+v", ms)
	}
}

func TestDeadTime(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/dead-times":
			w.Write([]byte(`{"id":"31"}`))
		case "/api/dead-times/31/finish":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})
	defer srv.Close()

	id, err := client.StartDeadTime(context.Background(), DeadTimeRequest{Username: "anna", Code: "MAINT"})
	if err != nil || id != 31 {
		t.Fatalf("StartDeadTime = %d, %v", id, err)
	}
	if err := client.FinishDeadTime(context.Background(), id); err != nil {
		t.Fatalf("FinishDeadTime: %v", err)
	}
}
