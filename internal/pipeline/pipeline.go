// Package pipeline composes the edge request processing: classification,
// loop-guard checking, locale negotiation, safe redirect construction,
// auth gating, and single-flight deduplication of the decision step.
//
// Per-request control flow:
//
//	classify -> (bypass) | dedup(decide) -> redirect | gate | pass
//
// No error escapes the middleware: unexpected failures fail open into a
// redirect to the default locale rather than a 500.
package pipeline

import (
	"fmt"
	"net/http"

	"github.com/Okazakee/okazakee-ws-sub000/internal/authgate"
	"github.com/Okazakee/okazakee-ws-sub000/internal/dedup"
	"github.com/Okazakee/okazakee-ws-sub000/internal/locale"
	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
	"github.com/Okazakee/okazakee-ws-sub000/internal/pathutil"
	"github.com/Okazakee/okazakee-ws-sub000/internal/routing"
	"github.com/Okazakee/okazakee-ws-sub000/internal/session"
)

const (
	// HeaderLoopGuard marks a response as a locale redirect and, when
	// seen on an incoming request, suppresses any further locale
	// redirect for it. This is what breaks redirect cycles even under
	// misconfiguration.
	HeaderLoopGuard = "X-Locale-Redirect"

	// HeaderProtectedArea is informational: set when the request
	// targeted the protected route family. Downstream observability
	// only, never load-bearing.
	HeaderProtectedArea = "X-Protected-Area"

	// DefaultLocaleCookie is the locale preference cookie name.
	DefaultLocaleCookie = "preferred_locale"
)

// Hooks are optional observability callbacks; nil funcs are skipped.
type Hooks struct {
	OnBypass         func(kind routing.Kind)
	OnLocaleRedirect func(loc string)
	OnDedupShared    func()
	OnGateRedirect   func()
	OnSessionClear   func()
	OnPass           func()
	OnFailOpen       func()
}

// action is what one request decision resolved to.
type action int

const (
	actPass action = iota
	actRedirect
)

// decision is the shareable outcome of the decide step. It carries no
// per-visitor response state, which is why only the locale-redirect path
// is deduplicated.
type decision struct {
	action   action
	location string
	// loopGuard marks the redirect as a locale redirect.
	loopGuard bool
	// clearSession expires session cookies on the response.
	clearSession bool
	// protected sets the informational protected-area header.
	protected bool
}

// Pipeline is the edge middleware. Build with New, mount with
// Middleware.
type Pipeline struct {
	classifier   routing.Matcher
	resolver     *locale.Resolver
	gate         *authgate.Gate
	group        *dedup.Group[decision]
	localeCookie string
	cookiePrefix string
	hooks        Hooks
}

type Option func(*Pipeline)

// WithLocaleCookie overrides the locale preference cookie name.
func WithLocaleCookie(name string) Option {
	return func(p *Pipeline) { p.localeCookie = name }
}

// WithSessionCookiePrefix overrides the prefix used when clearing stale
// session cookies.
func WithSessionCookiePrefix(prefix string) Option {
	return func(p *Pipeline) { p.cookiePrefix = prefix }
}

// WithHooks installs observability callbacks.
func WithHooks(h Hooks) Option {
	return func(p *Pipeline) { p.hooks = h }
}

// New assembles a Pipeline from its collaborators. gate may be nil to
// disable auth gating (everything under the protected prefix passes).
func New(classifier routing.Matcher, resolver *locale.Resolver, gate *authgate.Gate, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier:   classifier,
		resolver:     resolver,
		gate:         gate,
		group:        dedup.New[decision](),
		localeCookie: DefaultLocaleCookie,
		cookiePrefix: session.DefaultCookiePrefix,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Middleware wraps next with the full pipeline.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := p.classifier.Classify(r.URL.Path); d.Bypass {
			if p.hooks.OnBypass != nil {
				p.hooks.OnBypass(d.Kind)
			}
			next.ServeHTTP(w, r)
			return
		}

		dec := p.decideSafe(r)

		switch dec.action {
		case actRedirect:
			if dec.clearSession {
				session.ClearSessionCookies(w, r.Cookies(), p.cookiePrefix)
				if p.hooks.OnSessionClear != nil {
					p.hooks.OnSessionClear()
				}
			}
			if dec.loopGuard {
				w.Header().Set(HeaderLoopGuard, "1")
			}
			if dec.protected {
				w.Header().Set(HeaderProtectedArea, "1")
			}
			http.Redirect(w, r, dec.location, http.StatusTemporaryRedirect)
		default:
			if dec.protected {
				w.Header().Set(HeaderProtectedArea, "1")
			}
			if p.hooks.OnPass != nil {
				p.hooks.OnPass()
			}
			next.ServeHTTP(w, r)
		}
	})
}

// decideSafe runs decide under a recover so that no pipeline failure
// ever surfaces as a 500; the request fails open into a redirect to the
// default locale, marker set.
func (p *Pipeline) decideSafe(r *http.Request) (dec decision) {
	ctx := r.Context()
	defer func() {
		if rec := recover(); rec != nil {
			log.FromContext(ctx).Error(ctx, fmt.Errorf("%v", rec), "pipeline failure, failing open",
				"url.path", r.URL.Path,
			)
			if p.hooks.OnFailOpen != nil {
				p.hooks.OnFailOpen()
			}
			dec = decision{
				action:    actRedirect,
				location:  "/" + p.resolver.Set().Default() + "/",
				loopGuard: true,
			}
		}
	}()
	return p.decide(r)
}

func (p *Pipeline) decide(r *http.Request) decision {
	path := r.URL.Path
	set := p.resolver.Set()
	guarded := r.Header.Get(HeaderLoopGuard) != ""

	loc, hasLocale := set.FromPath(path)

	if !hasLocale {
		if guarded {
			// Already redirected once for locale; never again.
			return decision{action: actPass}
		}
		return p.localeRedirect(r)
	}

	stripped := set.StripPath(path)
	if p.gate != nil && p.gate.Applies(stripped) {
		out := p.gate.Evaluate(r.Context(), r.Cookies(), loc, stripped)
		if out.RedirectTo != "" {
			if p.hooks.OnGateRedirect != nil {
				p.hooks.OnGateRedirect()
			}
			return decision{
				action:       actRedirect,
				location:     out.RedirectTo,
				loopGuard:    true,
				clearSession: out.ClearSessionCookies,
				protected:    true,
			}
		}
		return decision{action: actPass, protected: true}
	}

	return decision{action: actPass}
}

// localeRedirect builds the locale-prefixed redirect for a path with no
// locale segment. Identical concurrent requests (same path, header,
// cookie) share one resolution via single flight.
func (p *Pipeline) localeRedirect(r *http.Request) decision {
	cookie := p.localeCookieValue(r)
	header := r.Header.Get("Accept-Language")
	key := dedup.Key(r.URL.Path, header, cookie)

	dec, shared, err := p.group.Do(key, func() (decision, error) {
		loc := p.resolver.Resolve(cookie, header)

		clean, ok := pathutil.Sanitize(r.URL.Path)
		if !ok {
			log.FromContext(r.Context()).Warn(r.Context(), "rejected unsafe pathname",
				"url.path", truncatePath(r.URL.Path),
			)
		}
		target := "/" + loc + clean

		if p.hooks.OnLocaleRedirect != nil {
			p.hooks.OnLocaleRedirect(loc)
		}
		return decision{action: actRedirect, location: target, loopGuard: true}, nil
	})
	if shared && p.hooks.OnDedupShared != nil {
		p.hooks.OnDedupShared()
	}
	if err != nil {
		// The closure never returns an error; belt and braces.
		return decision{
			action:    actRedirect,
			location:  "/" + p.resolver.Set().Default() + "/",
			loopGuard: true,
		}
	}
	return dec
}

func (p *Pipeline) localeCookieValue(r *http.Request) string {
	c, err := r.Cookie(p.localeCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// truncatePath keeps warning logs bounded for hostile input.
func truncatePath(p string) string {
	const max = 256
	if len(p) > max {
		return p[:max] + "..."
	}
	return p
}
