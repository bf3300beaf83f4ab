package backend

import (
	"errors"
	"fmt"
	"net/http"

	"phasetrack/production"
	"phasetrack/session"
)

var (
	// ErrTransient marks failures worth retrying: the server could not be
	// reached or answered with a 5xx.
	ErrTransient = errors.New("backend unavailable")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not logged in")
)

// APIError is a non-2xx response from the core API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Unwrap maps the status code onto the sentinel errors callers branch on.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusConflict:
		return session.ErrExclusivityConflict
	case e.Status == http.StatusUnprocessableEntity:
		return production.ErrNothingRemaining
	case e.Status >= 500:
		return ErrTransient
	}
	return nil
}
