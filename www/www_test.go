package www

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"phasetrack/backend"
	"phasetrack/backend/backendtest"
	"phasetrack/config"
	"phasetrack/engine"
	"phasetrack/multijob"
	"phasetrack/production"
)

var t0 = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

type loginFake struct {
	*backendtest.Fake
}

func (f *loginFake) Login(ctx context.Context, username, password string) error {
	if password != "secret" {
		return backend.ErrUnauthorized
	}
	return nil
}

func (f *loginFake) Logout(ctx context.Context) error { return nil }

type terminal struct {
	t    *testing.T
	srv  *httptest.Server
	hc   *http.Client
	fake *loginFake
	now  *time.Time
}

func newTerminal(t *testing.T) *terminal {
	t.Helper()
	now := t0
	clock := func() time.Time { return now }

	fake := &loginFake{Fake: backendtest.New("ben", clock)}
	for i, qr := range []string{"ORD-9/1", "ORD-9/2"} {
		fake.AddSheet(&production.ProductionSheet{
			ID: int64(i + 1), QRCode: qr, Quantity: 20,
			Phases: []production.Phase{
				production.Active(production.PhaseDefinition{PhaseID: "CUT", Position: "10", ProductionPosition: "10", ProductionTimePerPiece: 30}),
				production.Active(production.PhaseDefinition{PhaseID: "PAINT", Position: "20", ProductionPosition: "20"}),
			},
		})
	}

	cfg := config.StationDefaults()
	cfg.Session.AutosaveDebounce = time.Hour
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Dial:      func() engine.OperatorBackend { return fake },
	})
	eng.SetClock(clock)

	router, stop := NewRouter(eng)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		stop()
	})
	jar, _ := cookiejar.New(nil)
	return &terminal{t: t, srv: srv, hc: &http.Client{Jar: jar, Timeout: 5 * time.Second}, fake: fake, now: &now}
}

func (tm *terminal) do(method, path, body string, out any) int {
	tm.t.Helper()
	req, err := http.NewRequest(method, tm.srv.URL+path, strings.NewReader(body))
	if err != nil {
		tm.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := tm.hc.Do(req)
	if err != nil {
		tm.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			tm.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type stateResponse struct {
	Builder multijob.Snapshot `json:"builder"`
	Current *struct {
		Kind string `json:"kind"`
	} `json:"current"`
}

func (tm *terminal) state() stateResponse {
	tm.t.Helper()
	var s stateResponse
	if code := tm.do("GET", "/api/state", "", &s); code != http.StatusOK {
		tm.t.Fatalf("state: status %d", code)
	}
	return s
}

func TestLoginRequired(t *testing.T) {
	tm := newTerminal(t)
	if code := tm.do("GET", "/api/state", "", nil); code != http.StatusUnauthorized {
		t.Errorf("state before login = %d, want 401", code)
	}
	if code := tm.do("POST", "/api/login", `{"username":"ben","password":"nope"}`, nil); code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", code)
	}
	if code := tm.do("POST", "/api/login", `{"username":"ben","password":"secret"}`, nil); code != http.StatusOK {
		t.Fatalf("login = %d", code)
	}
	var ops []string
	tm.do("GET", "/api/operators", "", &ops)
	if len(ops) != 1 || ops[0] != "ben" {
		t.Errorf("operators = %v", ops)
	}
	if code := tm.do("POST", "/api/logout", "", nil); code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}
	if code := tm.do("GET", "/api/state", "", nil); code != http.StatusUnauthorized {
		t.Errorf("state after logout = %d, want 401", code)
	}
}

func TestMultiJobSessionOverHTTP(t *testing.T) {
	tm := newTerminal(t)
	tm.do("POST", "/api/login", `{"username":"ben","password":"secret"}`, nil)

	if code := tm.do("POST", "/api/multi/scan", `{"code":"ORD-9/1"}`, nil); code != http.StatusOK {
		t.Fatalf("scan = %d", code)
	}
	var eligible []multijob.EligiblePhase
	tm.do("GET", "/api/multi/eligible", "", &eligible)
	if len(eligible) != 1 || eligible[0].PhaseID != "CUT" || eligible[0].Remaining != 20 {
		t.Fatalf("eligible = %+v", eligible)
	}
	tm.do("POST", "/api/multi/pick", `{"phase_id":"CUT","position":"10"}`, nil)
	if code := tm.do("POST", "/api/multi/start", "", nil); code != http.StatusUnprocessableEntity {
		t.Errorf("start with one job = %d, want 422", code)
	}
	tm.do("POST", "/api/multi/scan", `{"code":"ORD-9/2"}`, nil)
	tm.do("POST", "/api/multi/pick", `{"phase_id":"CUT","position":"10"}`, nil)
	if code := tm.do("POST", "/api/multi/start", "", nil); code != http.StatusOK {
		t.Fatalf("start = %d", code)
	}
	if s := tm.state(); s.Builder.State != multijob.StateRunning || len(s.Builder.Items) != 2 {
		t.Fatalf("state = %+v", s.Builder)
	}

	if code := tm.do("POST", "/api/dead-time/start", `{"code":"MAINT"}`, nil); code != http.StatusConflict {
		t.Errorf("dead time during session = %d, want 409", code)
	}

	*tm.now = t0.Add(10 * time.Minute)
	if code := tm.do("POST", "/api/multi/stop", `{"quantities":["5","abc"]}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("stop with bad quantity = %d, want 422", code)
	}
	if s := tm.state(); s.Builder.State != multijob.StateRunning {
		t.Errorf("state after bad stop = %s, want running", s.Builder.State)
	}

	var res multijob.SaveResult
	if code := tm.do("POST", "/api/multi/stop", `{"quantities":["5",7]}`, &res); code != http.StatusOK {
		t.Fatalf("stop = %d", code)
	}
	if res.TotalSeconds != 600 || len(res.LogIDs) != 2 || res.Quantities[1] != 7 {
		t.Errorf("result = %+v", res)
	}
	if res.Durations[0]+res.Durations[1] != 600 {
		t.Errorf("durations = %v, want a 600s split", res.Durations)
	}
	if s := tm.state(); s.Builder.State != multijob.StateIdle || s.Current != nil {
		t.Errorf("after stop = %+v current=%v", s.Builder, s.Current)
	}
}

func TestDeadTimeAndSinglePhaseOverHTTP(t *testing.T) {
	tm := newTerminal(t)
	tm.do("POST", "/api/login", `{"username":"ben","password":"secret"}`, nil)

	if code := tm.do("POST", "/api/dead-time/start", `{"code":"BREAK"}`, nil); code != http.StatusOK {
		t.Fatalf("dead time start = %d", code)
	}
	if s := tm.state(); s.Current == nil || s.Current.Kind != "dead_time" {
		t.Errorf("current = %+v", s.Current)
	}
	if code := tm.do("POST", "/api/phase/start", `{"qr_code":"ORD-9/1","phase_id":"CUT","position":"10"}`, nil); code != http.StatusConflict {
		t.Errorf("phase during dead time = %d, want 409", code)
	}
	if code := tm.do("POST", "/api/dead-time/stop", "", nil); code != http.StatusOK {
		t.Fatalf("dead time stop = %d", code)
	}
	if code := tm.do("POST", "/api/dead-time/stop", "", nil); code != http.StatusConflict {
		t.Errorf("second stop = %d, want 409", code)
	}

	var l production.PhaseLog
	if code := tm.do("POST", "/api/phase/start", `{"qr_code":"ORD-9/1","phase_id":"CUT","position":"10"}`, &l); code != http.StatusOK {
		t.Fatalf("phase start = %d", code)
	}
	if code := tm.do("POST", "/api/phase/finish", `{"quantity":"21"}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("over-limit finish = %d, want 422", code)
	}
	var done production.PhaseLog
	if code := tm.do("POST", "/api/phase/finish", `{"quantity":"12"}`, &done); code != http.StatusOK {
		t.Fatalf("finish = %d", code)
	}
	if done.ID != l.ID || done.QuantityDone != 12 {
		t.Errorf("finished = %+v", done)
	}
	if code := tm.do("POST", "/api/phase/start", `{"qr_code":"ORD-9/9","phase_id":"CUT","position":"10"}`, nil); code != http.StatusNotFound {
		t.Errorf("unknown sheet = %d, want 404", code)
	}
}

func TestEventHubScopesToOperator(t *testing.T) {
	bus := engine.NewEventBus()
	h := NewEventHub(bus)
	defer h.Close()

	ben, cancelBen := h.subscribe("ben")
	anna, cancelAnna := h.subscribe("anna")
	defer cancelAnna()
	if h.Connections("ben") != 1 {
		t.Errorf("ben connections = %d", h.Connections("ben"))
	}

	bus.Emit(engine.Event{Type: engine.EventJobListChanged, Operator: "ben"})
	select {
	case evt := <-ben:
		if evt.Type != engine.EventJobListChanged.String() || evt.Operator != "ben" {
			t.Errorf("event = %+v", evt)
		}
	default:
		t.Fatal("ben got no event")
	}
	select {
	case evt := <-anna:
		t.Errorf("anna received %+v", evt)
	default:
	}

	cancelBen()
	if h.Connections("ben") != 0 {
		t.Errorf("ben connections after cancel = %d", h.Connections("ben"))
	}
	bus.Emit(engine.Event{Type: engine.EventJobListChanged, Operator: "ben"})
	select {
	case evt := <-ben:
		t.Errorf("cancelled feed received %+v", evt)
	default:
	}
}

func TestNewerLoginReplacesTerminal(t *testing.T) {
	first := newTerminal(t)
	if code := first.do("POST", "/api/login", `{"username":"ben","password":"secret"}`, nil); code != http.StatusOK {
		t.Fatalf("first login = %d", code)
	}

	jar, _ := cookiejar.New(nil)
	second := *first
	second.hc = &http.Client{Jar: jar, Timeout: 5 * time.Second}
	*first.now = first.now.Add(time.Minute)
	if code := second.do("POST", "/api/login", `{"username":"ben","password":"secret"}`, nil); code != http.StatusOK {
		t.Fatalf("second login = %d", code)
	}

	if code := second.do("GET", "/api/state", "", nil); code != http.StatusOK {
		t.Errorf("newer terminal state = %d, want 200", code)
	}
	if code := first.do("GET", "/api/state", "", nil); code != http.StatusUnauthorized {
		t.Errorf("replaced terminal state = %d, want 401", code)
	}
}

func TestBackendSettings(t *testing.T) {
	tm := newTerminal(t)
	tm.do("POST", "/api/login", `{"username":"ben","password":"secret"}`, nil)

	if code := tm.do("PUT", "/api/settings/backend", `{"url":""}`, nil); code != http.StatusBadRequest {
		t.Errorf("empty url = %d, want 400", code)
	}
	var got struct {
		URL            string `json:"url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if code := tm.do("PUT", "/api/settings/backend", `{"url":"http://core-2:8090","timeout_seconds":3}`, &got); code != http.StatusOK {
		t.Fatalf("set backend = %d", code)
	}
	if got.URL != "http://core-2:8090" || got.TimeoutSeconds != 3 {
		t.Errorf("settings = %+v", got)
	}
}
