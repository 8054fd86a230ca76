package web

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/cita-sniper/internal/config"
)

const sessionCookie = "cita_session"

// auth guards the operator pages with a single bcrypt password and a
// securecookie session. With no password configured everything is open,
// which only makes sense on a local dev run.
type auth struct {
	sc       *securecookie.SecureCookie
	passHash string
}

func newAuth(cfg config.Config) *auth {
	a := &auth{passHash: cfg.OperatorPassword}
	if len(cfg.CookieHashKey) > 0 {
		a.sc = securecookie.New(cfg.CookieHashKey, cfg.CookieBlockKey)
	}
	return a
}

func (a *auth) enabled() bool { return a.passHash != "" && a.sc != nil }

func (a *auth) check(password string) bool {
	if !a.enabled() {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(a.passHash), []byte(password)) == nil
}

func (a *auth) setSession(w http.ResponseWriter) error {
	if !a.enabled() {
		return nil
	}
	encoded, err := a.sc.Encode(sessionCookie, map[string]string{"role": "operator"})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(12 * time.Hour),
	})
	return nil
}

func (a *auth) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		c, err := r.Cookie(sessionCookie)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		var session map[string]string
		if err := a.sc.Decode(sessionCookie, c.Value, &session); err != nil || session["role"] != "operator" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
