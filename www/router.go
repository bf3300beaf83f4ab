// Package www is the station terminal's JSON API.
package www

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"phasetrack/engine"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
}

type operatorKey struct{}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(eng.Events),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.apiLogin)
		r.Get("/operators", h.apiOperators)

		r.Group(func(r chi.Router) {
			r.Use(h.requireOperator)

			r.Post("/logout", h.apiLogout)
			r.Get("/state", h.apiState)

			r.Route("/multi", func(r chi.Router) {
				r.Post("/scan", h.apiScan)
				r.Get("/eligible", h.apiEligible)
				r.Post("/pick", h.apiPick)
				r.Post("/pick/cancel", h.apiCancelPick)
				r.Delete("/items/{index}", h.apiRemoveItem)
				r.Post("/start", h.apiStartMulti)
				r.Post("/stop", h.apiStopMulti)
				r.Post("/abandon", h.apiAbandon)
				r.Post("/resume", h.apiResume)
				r.Post("/orphan", h.apiResolveOrphan)
			})

			r.Post("/dead-time/start", h.apiStartDeadTime)
			r.Post("/dead-time/stop", h.apiStopDeadTime)
			r.Post("/phase/start", h.apiStartPhase)
			r.Post("/phase/finish", h.apiFinishPhase)

			r.Get("/settings/backend", h.apiGetBackend)
			r.Put("/settings/backend", h.apiSetBackend)
		})
	})

	r.With(h.requireOperator).Get("/events", func(w http.ResponseWriter, r *http.Request) {
		op := operatorFrom(r)
		var initial any
		if st, err := h.engine.State(r.Context(), op); err != nil {
			log.Printf("www: initial state for %s: %v", op, err)
		} else {
			initial = st
		}
		h.eventHub.HandleSSE(w, r, op, initial)
	})

	return r, h.eventHub.Close
}

// requireOperator resolves the terminal's operator. A cookie whose login is
// no longer the engine's current one, after a restart or a newer login, is
// cleared.
func (h *Handlers) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		login, ok := h.sessions.load(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		st, err := h.engine.Station(login.Operator)
		if err == nil && !st.LoginAt.Equal(login.LoginAt) {
			err = errSessionReplaced
		}
		if err != nil {
			h.sessions.clear(w, r)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, login.Operator)))
	})
}

func operatorFrom(r *http.Request) string {
	u, _ := r.Context().Value(operatorKey{}).(string)
	return u
}
