package coreapi

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	cookieName    = "phasecore_session"
	defaultSecret = "phasecore-default-secret-change-me"
)

// operatorCookies keeps the signed-in operator in a signed and encrypted
// cookie. Both keys are derived from the configured secret so every core
// instance sharing it accepts the same cookies.
type operatorCookies struct {
	store sessions.Store
}

func newOperatorCookies(secret string, maxAge time.Duration) *operatorCookies {
	if secret == "" {
		secret = defaultSecret
	}
	if maxAge <= 0 {
		maxAge = 12 * time.Hour
	}
	hashKey := sha256.Sum256([]byte("auth:" + secret))
	blockKey := sha256.Sum256([]byte("enc:" + secret))
	cs := sessions.NewCookieStore(hashKey[:], blockKey[:])
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &operatorCookies{store: cs}
}

// operator returns the signed-in operator of the request.
func (c *operatorCookies) operator(r *http.Request) (string, bool) {
	sess, err := c.store.Get(r, cookieName)
	if err != nil {
		return "", false
	}
	name, _ := sess.Values["operator"].(string)
	return name, name != ""
}

func (c *operatorCookies) signIn(w http.ResponseWriter, r *http.Request, username string) error {
	sess, _ := c.store.Get(r, cookieName)
	sess.Values["operator"] = username
	return sess.Save(r, w)
}

func (c *operatorCookies) signOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := c.store.Get(r, cookieName)
	delete(sess.Values, "operator")
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
