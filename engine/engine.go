// Package engine runs the station: one Station per logged-in operator, a
// poll loop that re-synchronizes idle builders with the backend, and an
// EventBus the terminal UI listens on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"phasetrack/backend"
	"phasetrack/config"
	"phasetrack/multijob"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...any)

var ErrNotLoggedIn = errors.New("operator not logged in at this station")

// Engine owns the stations of all operators logged in at this terminal.
type Engine struct {
	cfg        *config.StationConfig
	configPath string
	logFn      LogFunc
	debugFn    LogFunc
	dial       func() OperatorBackend
	now        func() time.Time

	mu       sync.RWMutex
	stations map[string]*Station

	Events   *EventBus
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.StationConfig
	ConfigPath string
	LogFunc    LogFunc
	Debug      bool
	// Dial opens a backend connection for a new operator. Nil uses an HTTP
	// client against AppConfig.Backend.
	Dial func() OperatorBackend
}

// New creates an Engine. Call Start to begin polling.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...any) {}
	}
	debugFn := LogFunc(func(string, ...any) {})
	if c.Debug {
		debugFn = logFn
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		debugFn:    debugFn,
		dial:       c.Dial,
		now:        time.Now,
		stations:   make(map[string]*Station),
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}
	if e.dial == nil {
		e.dial = func() OperatorBackend {
			e.cfg.Lock()
			url, timeout := e.cfg.Backend.URL, e.cfg.Backend.Timeout
			e.cfg.Unlock()
			return backend.NewClient(url, timeout)
		}
	}
	return e
}

// SetClock replaces the engine clock. Stations created afterwards use it.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.Events.now = now
}

// Start launches the poll loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.pollLoop()
	e.logFn("engine: started station=%s line=%s backend=%s", e.cfg.StationID, e.cfg.Line, e.cfg.Backend.URL)
}

// Stop ends polling and flushes every pending job list.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, st := range e.snapshotStations() {
		if err := st.Autosaver.Flush(ctx); err != nil {
			e.logFn("engine: flush job list for %s: %v", st.Operator, err)
		}
	}
	e.logFn("engine: stopped")
}

// AppConfig returns the station config.
func (e *Engine) AppConfig() *config.StationConfig { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// ConfigureBackend points the station at another core server. The change
// applies to operators already logged in and is written to the config file
// when one was given.
func (e *Engine) ConfigureBackend(url string, timeout time.Duration) error {
	if url == "" {
		return fmt.Errorf("configure backend: url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e.cfg.Lock()
	e.cfg.Backend.URL = url
	e.cfg.Backend.Timeout = timeout
	e.cfg.Unlock()
	if e.configPath != "" {
		if err := e.cfg.Save(e.configPath); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	type reconfigurable interface {
		Reconfigure(baseURL string, timeout time.Duration)
	}
	e.mu.RLock()
	for _, st := range e.stations {
		if r, ok := st.Backend.(reconfigurable); ok {
			r.Reconfigure(url, timeout)
		}
	}
	e.mu.RUnlock()
	e.logFn("engine: backend set to %s (timeout %s)", url, timeout)
	return nil
}

// Login authenticates the operator against the backend and opens their
// station. The builder is resumed right away so a session that survived a
// restart shows up immediately. Logging in again replaces the station.
func (e *Engine) Login(ctx context.Context, username, password string) (*Station, error) {
	if username == "" {
		return nil, fmt.Errorf("login: username is required")
	}
	be := e.dial()
	if err := be.Login(ctx, username, password); err != nil {
		return nil, err
	}
	e.cfg.Lock()
	debounce := e.cfg.Session.AutosaveDebounce
	e.cfg.Unlock()

	st := newStation(username, be, e.Events, debounce, e.now)

	e.mu.Lock()
	old := e.stations[username]
	e.stations[username] = st
	e.mu.Unlock()
	if old != nil {
		old.Autosaver.Cancel()
	}

	e.Events.Emit(Event{Type: EventOperatorLoggedIn, Operator: username, Payload: OperatorEvent{LoggedIn: true}})
	e.resume(ctx, st)
	e.logFn("engine: operator %s logged in", username)
	return st, nil
}

// Logout flushes the operator's job list and ends their backend session.
// A running multi-job session keeps running on the backend.
func (e *Engine) Logout(ctx context.Context, username string) error {
	e.mu.Lock()
	st, ok := e.stations[username]
	delete(e.stations, username)
	e.mu.Unlock()
	if !ok {
		return ErrNotLoggedIn
	}
	if err := st.Autosaver.Flush(ctx); err != nil {
		e.logFn("engine: flush job list for %s: %v", username, err)
	}
	st.Autosaver.Cancel()
	if err := st.Backend.Logout(ctx); err != nil {
		e.debugFn("engine: backend logout %s: %v", username, err)
	}
	e.Events.Emit(Event{Type: EventOperatorLoggedOut, Operator: username, Payload: OperatorEvent{}})
	e.logFn("engine: operator %s logged out", username)
	return nil
}

// Station returns the operator's station.
func (e *Engine) Station(username string) (*Station, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.stations[username]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return st, nil
}

// Operators lists the logged-in operators, sorted.
func (e *Engine) Operators() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.stations))
	for u := range e.stations {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// State returns the operator's builder snapshot and open activity.
func (e *Engine) State(ctx context.Context, username string) (*State, error) {
	st, err := e.Station(username)
	if err != nil {
		return nil, err
	}
	s := &State{Builder: st.Builder.Snapshot()}
	cur, err := st.Runner.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		s.Current = cur
	}
	return s, nil
}

// NotifySessionChanged re-synchronizes an operator after the backend
// reported a change to their live session, e.g. from another terminal.
func (e *Engine) NotifySessionChanged(username string) {
	st, err := e.Station(username)
	if err != nil {
		return
	}
	e.Events.Emit(Event{Type: EventRemoteSessionChanged, Operator: username, Payload: OperatorEvent{LoggedIn: true}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.resume(ctx, st)
}

// PollOnce resumes every idle builder once.
func (e *Engine) PollOnce(ctx context.Context) {
	for _, st := range e.snapshotStations() {
		if st.Builder.State() != multijob.StateIdle {
			continue
		}
		e.resume(ctx, st)
	}
}

func (e *Engine) resume(ctx context.Context, st *Station) {
	err := st.Builder.Resume(ctx)
	switch {
	case err == nil:
	case errors.Is(err, multijob.ErrSessionUnrecoverable):
		e.debugFn("engine: %v", err)
	default:
		e.logFn("engine: resume %s: %v", st.Operator, err)
	}
}

func (e *Engine) pollLoop() {
	defer e.wg.Done()
	e.cfg.Lock()
	interval := e.cfg.Session.PollInterval
	e.cfg.Unlock()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			e.PollOnce(ctx)
			cancel()
		}
	}
}

func (e *Engine) snapshotStations() []*Station {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Station, 0, len(e.stations))
	for _, st := range e.stations {
		out = append(out, st)
	}
	return out
}
