package www

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	sessionName  = "phasestation_session"
	shiftSeconds = 12 * 60 * 60
)

var errSessionReplaced = errors.New("operator logged in again on another terminal")

// terminalLogin is what the cookie binds a terminal to: an operator and the
// engine login it belongs to.
type terminalLogin struct {
	Operator string
	LoginAt  time.Time
}

type sessionStore struct {
	cookies *sessions.CookieStore
}

// newSessionStore keys the cookies with the base64 secret. Without a usable
// secret a random key is used and terminals must log in again after a
// restart.
func newSessionStore(secret string) *sessionStore {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
		if secret != "" {
			log.Printf("www: session_secret is not 32+ bytes of base64, using a random key")
		}
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   shiftSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{cookies: cs}
}

func (s *sessionStore) load(r *http.Request) (terminalLogin, bool) {
	sess, _ := s.cookies.Get(r, sessionName)
	op, _ := sess.Values["operator"].(string)
	at, _ := sess.Values["login_at"].(int64)
	if op == "" {
		return terminalLogin{}, false
	}
	return terminalLogin{Operator: op, LoginAt: time.Unix(0, at)}, true
}

func (s *sessionStore) save(w http.ResponseWriter, r *http.Request, l terminalLogin) error {
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values["operator"] = l.Operator
	sess.Values["login_at"] = l.LoginAt.UnixNano()
	return sess.Save(r, w)
}

func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}
