package www

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"phasetrack/activity"
	"phasetrack/backend"
	"phasetrack/engine"
	"phasetrack/multijob"
	"phasetrack/production"
	"phasetrack/session"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseIndex(r *http.Request, param string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, param))
}

// decodeJSON decodes the request body into v. An empty body is not an error.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// quantityList accepts quantities as JSON strings or numbers.
type quantityList []string

func (q *quantityList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, len(raw))
	for i, m := range raw {
		var s string
		if err := json.Unmarshal(m, &s); err == nil {
			out[i] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(m, &n); err != nil {
			return fmt.Errorf("quantity %d: %w", i+1, err)
		}
		out[i] = n.String()
	}
	*q = out
	return nil
}

// conflictResponse tells the terminal which session blocks the operator.
type conflictResponse struct {
	Error      string               `json:"error"`
	Blocked    *session.LiveSession `json:"blocked,omitempty"`
	MustResume bool                 `json:"must_resume,omitempty"`
}

// writeActionError maps station and backend errors onto status codes.
func writeActionError(w http.ResponseWriter, err error) {
	var ce *session.ConflictError
	switch {
	case errors.As(err, &ce):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(conflictResponse{Error: err.Error(), Blocked: ce.Session, MustResume: ce.MustResume})
	case errors.Is(err, engine.ErrNotLoggedIn), errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, production.ErrNothingRemaining),
		errors.Is(err, production.ErrInvalidQuantity),
		errors.Is(err, multijob.ErrTooFewJobs):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrExclusivityConflict),
		errors.Is(err, multijob.ErrInvalidState),
		errors.Is(err, multijob.ErrAlreadyPicked),
		errors.Is(err, multijob.ErrCancelledByUser),
		errors.Is(err, multijob.ErrSessionUnrecoverable),
		errors.Is(err, multijob.ErrNoOrphan),
		errors.Is(err, activity.ErrNoDeadTime),
		errors.Is(err, activity.ErrNoActivePhase):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrTransient):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("www: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
