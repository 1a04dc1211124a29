// Package authgate protects the CMS route family: unauthenticated
// visitors are sent to the login page, authenticated visitors are kept
// off auth-only pages, and stale sessions get their cookies cleared.
package authgate

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
	"github.com/Okazakee/okazakee-ws-sub000/internal/session"
)

// Outcome tells the pipeline what to do with a gated request.
type Outcome struct {
	// RedirectTo is the redirect target; empty means pass through.
	RedirectTo string
	// ClearSessionCookies is set when the session was classified stale.
	ClearSessionCookies bool
	// Authenticated reports whether a valid session was observed.
	Authenticated bool
}

// pass is the zero Outcome.
func pass(authenticated bool) Outcome { return Outcome{Authenticated: authenticated} }

// Gate evaluates the auth state table for paths under the protected
// prefix. It never returns an error: every session-provider failure is
// degraded to "absent" and logged without token material.
type Gate struct {
	provider        session.Provider
	cookiePrefix    string
	protectedPrefix string
	loginPath       string
	publicPaths     map[string]struct{}
}

type Option func(*Gate)

// WithProtectedPrefix overrides the protected route family prefix.
func WithProtectedPrefix(p string) Option {
	return func(g *Gate) { g.protectedPrefix = p }
}

// WithLoginPath overrides the locale-relative login path.
func WithLoginPath(p string) Option {
	return func(g *Gate) { g.loginPath = p }
}

// WithPublicPaths overrides the locale-stripped sub-paths reachable
// without a session.
func WithPublicPaths(paths ...string) Option {
	return func(g *Gate) {
		g.publicPaths = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			g.publicPaths[p] = struct{}{}
		}
	}
}

// WithCookiePrefix overrides the session cookie prefix probed before
// any provider call.
func WithCookiePrefix(p string) Option {
	return func(g *Gate) { g.cookiePrefix = p }
}

// New builds a Gate over the given session provider.
func New(provider session.Provider, opts ...Option) *Gate {
	g := &Gate{
		provider:        provider,
		cookiePrefix:    session.DefaultCookiePrefix,
		protectedPrefix: "/cms",
		loginPath:       "/cms/login",
		publicPaths:     map[string]struct{}{"/cms/login": {}},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Applies reports whether the locale-stripped path falls under the
// protected prefix.
func (g *Gate) Applies(strippedPath string) bool {
	return strippedPath == g.protectedPrefix ||
		strings.HasPrefix(strippedPath, g.protectedPrefix+"/")
}

// Evaluate runs the state table for one request. strippedPath is the
// pathname with the locale segment removed; locale is used to build
// redirect targets.
func (g *Gate) Evaluate(ctx context.Context, cookies []*http.Cookie, locale, strippedPath string) Outcome {
	if !g.Applies(strippedPath) {
		return pass(false)
	}

	_, public := g.publicPaths[strippedPath]

	// Querying the provider is only worth it when session-shaped
	// cookies are on the request at all.
	var (
		sess *session.Session
		err  error
	)
	if session.HasSessionCookies(cookies, g.cookiePrefix) {
		sess, err = g.getSessionSafe(ctx, cookies)
	}

	if public {
		// Auth-only pages bounce authenticated visitors back to the
		// area root; everyone else passes.
		if sess != nil {
			return Outcome{RedirectTo: "/" + locale + g.protectedPrefix, Authenticated: true}
		}
		return pass(false)
	}

	if sess != nil {
		return pass(true)
	}

	out := Outcome{RedirectTo: "/" + locale + g.loginPath}
	if errors.Is(err, session.ErrStaleRefreshToken) {
		out.ClearSessionCookies = true
	}
	return out
}

// getSessionSafe queries the provider, converting panics and errors into
// the "absent" outcome. Logs never include cookie or token values.
func (g *Gate) getSessionSafe(ctx context.Context, cookies []*http.Cookie) (sess *session.Session, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.FromContext(ctx).Warn(ctx, "session provider panicked, treating session as absent",
				"panic", rec,
			)
			sess, err = nil, nil
		}
	}()

	sess, err = g.provider.GetSession(ctx, cookies)
	if err != nil {
		if errors.Is(err, session.ErrStaleRefreshToken) {
			log.FromContext(ctx).Info(ctx, "stale session detected, clearing session cookies")
		} else {
			log.FromContext(ctx).Warn(ctx, "session provider error, treating session as absent",
				"err_msg", err.Error(),
			)
		}
		return nil, err
	}
	return sess, nil
}
