// Package coreapi serves the phase tracking REST API the stations talk to.
package coreapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"phasetrack/backend"
	"phasetrack/livestate"
	"phasetrack/production"
	"phasetrack/store"
)

// PhaseEmitter is notified after a phase log was finished.
type PhaseEmitter interface {
	EmitPhaseFinished(l production.PhaseLog, durationSeconds int64)
}

// Server holds the handler dependencies.
type Server struct {
	db      *store.DB
	live    *livestate.Manager
	emitter PhaseEmitter
	cookies *operatorCookies
	now     func() time.Time
}

type userKey struct{}

// NewServer creates the API server. emitter may be nil.
func NewServer(db *store.DB, live *livestate.Manager, emitter PhaseEmitter, secret string, maxAge time.Duration) *Server {
	return &Server{
		db:      db,
		live:    live,
		emitter: emitter,
		cookies: newOperatorCookies(secret, maxAge),
		now:     time.Now,
	}
}

// SetClock replaces the server clock.
func (s *Server) SetClock(now func() time.Time) { s.now = now }

// EnsureBootstrapOperator creates the first operator when none exists.
func (s *Server) EnsureBootstrapOperator(username, password string) {
	if username == "" {
		return
	}
	exists, err := s.db.OperatorExists()
	if err != nil || exists {
		return
	}
	if _, err := s.db.CreateOperator(username, username, password); err != nil {
		log.Printf("coreapi: bootstrap operator %s: %v", username, err)
		return
	}
	log.Printf("coreapi: created bootstrap operator %s", username)
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.apiHealth)
		r.Post("/login", s.apiLogin)
		r.Post("/logout", s.apiLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireOperator)

			r.Get("/live-status", s.apiLiveStatus)
			r.Get("/live-status/dashboard", s.apiDashboard)
			r.Get("/active-phase", s.apiActivePhase)
			r.Post("/live-phase/start", s.apiStartLivePhase)
			r.Post("/live-phase/stop", s.apiStopLivePhase)

			r.Post("/phase-logs", s.apiStartPhaseLog)
			r.Post("/phase-logs/{id}/finish", s.apiFinishPhaseLog)

			r.Post("/dead-times", s.apiStartDeadTime)
			r.Post("/dead-times/{id}/finish", s.apiFinishDeadTime)

			r.Get("/sheets", s.apiListSheets)
			r.Post("/sheets", s.apiCreateSheet)
			r.Get("/sheets/by-qr", s.apiSheetByQR)

			r.Get("/multi-session", s.apiGetMultiSession)
			r.Put("/multi-session", s.apiSaveMultiSession)
			r.Delete("/multi-session", s.apiClearMultiSession)

			r.Get("/stations", s.apiListStations)
			r.Post("/operators", s.apiCreateOperator)
		})
	})
	return r
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.cookies.operator(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) string {
	u, _ := r.Context().Value(userKey{}).(string)
	return u
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStoreError maps store errors to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("coreapi: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}

// decodeBody reads a JSON body through the same alias normalization the
// stations apply to responses, so older clients' field names are accepted.
// An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	data, err = backend.Normalize(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Server) apiHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "server_time": s.now().UTC()})
}

func (s *Server) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	op, err := s.db.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err := s.cookies.signIn(w, r, op.Username); err != nil {
		log.Printf("coreapi: session save error: %v", err)
		writeError(w, http.StatusInternalServerError, "session error")
		return
	}
	writeJSON(w, op)
}

func (s *Server) apiLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.cookies.signOut(w, r); err != nil {
		log.Printf("coreapi: session clear error: %v", err)
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) apiListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.db.ListStations()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, stations)
}

func (s *Server) apiCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	op, err := s.db.CreateOperator(req.Username, req.DisplayName, req.Password)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, op)
}
