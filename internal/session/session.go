// Package session talks to the auth backend on behalf of the edge. The
// pipeline only ever observes "present or absent" plus a coarse error
// classification; session contents stay opaque here.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrStaleRefreshToken marks a session whose tokens are beyond recovery:
// the browser still sends cookies but they can no longer produce a valid
// session. The auth gate clears cookies when it sees this.
var ErrStaleRefreshToken = errors.New("stale refresh token")

// Session is the minimal view of an authenticated visitor.
type Session struct {
	UserID string
	Email  string
}

// Provider is what the auth gate consumes. GetSession returns a session
// when the cookies prove one; a nil session with nil error means
// "no session, nothing wrong"; errors are classified with
// errors.Is(err, ErrStaleRefreshToken).
type Provider interface {
	GetSession(ctx context.Context, cookies []*http.Cookie) (*Session, error)
}

// DefaultCookiePrefix is the session cookie prefix convention the auth
// backend uses. Only used to decide whether calling the backend is worth
// it at all.
const DefaultCookiePrefix = "sb-"

// HasSessionCookies reports whether any cookie carries the session
// prefix. The gate short-circuits to "absent" without any I/O when this
// is false.
func HasSessionCookies(cookies []*http.Cookie, prefix string) bool {
	if prefix == "" {
		prefix = DefaultCookiePrefix
	}
	for _, c := range cookies {
		if strings.HasPrefix(c.Name, prefix) {
			return true
		}
	}
	return false
}

// ClearSessionCookies expires every session-prefixed cookie on the
// response. Called when the backend reports the session is stale.
func ClearSessionCookies(w http.ResponseWriter, cookies []*http.Cookie, prefix string) {
	if prefix == "" {
		prefix = DefaultCookiePrefix
	}
	for _, c := range cookies {
		if !strings.HasPrefix(c.Name, prefix) {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     c.Name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
