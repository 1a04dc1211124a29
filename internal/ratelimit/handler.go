package ratelimit

import (
	"encoding/json"
	"net/http"

	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
)

// loginCheckResponse is the body returned for an admitted attempt.
type loginCheckResponse struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// LoginCheckHandler exposes the login throttle as an endpoint the app
// origin calls before verifying credentials. Each call counts as one
// attempt for the caller's IP plus the submitted email; the credential
// check itself stays with the origin. onDenied may be nil.
func LoginCheckHandler(l *LoginLimiter, onDenied func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())
		email := r.PostFormValue("email")

		res := l.Check(LoginKey(ip, email))
		if !res.Allowed {
			if onDenied != nil {
				onDenied()
			}
			tooMany(w, res.LockoutRemaining)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(loginCheckResponse{
			Allowed:   true,
			Remaining: res.Remaining,
		})
	}
}
