package locale

import "strings"

// maxCookieLen bounds the locale cookie value; anything longer is
// treated as absent rather than an error.
const maxCookieLen = 12

// Resolver negotiates a locale from the preference cookie and the
// Accept-Language header, consulting and populating the cache. The
// path-locale case (step 1 of the priority order) is handled by the
// caller, since a locale already in the path means no redirect is needed.
type Resolver struct {
	set   Set
	cache *Cache
}

// NewResolver returns a Resolver over the given set. cache may be nil to
// disable memoization.
func NewResolver(set Set, cache *Cache) *Resolver {
	return &Resolver{set: set, cache: cache}
}

// Set returns the locale set the resolver was built with.
func (r *Resolver) Set() Set { return r.set }

// Resolve returns the negotiated locale for the given cookie value and
// Accept-Language header. Never fails; every degenerate input falls
// through to the configured default. Cookie/header/default outcomes are
// written back to the cache.
func (r *Resolver) Resolve(cookie, acceptLanguage string) string {
	if loc, ok := r.cache.Get(cookie, acceptLanguage); ok {
		return loc
	}

	loc := r.resolveUncached(cookie, acceptLanguage)
	r.cache.Set(cookie, acceptLanguage, loc)
	return loc
}

func (r *Resolver) resolveUncached(cookie, acceptLanguage string) string {
	if c, ok := sanitizeCookie(cookie); ok && r.set.Contains(c) {
		return c
	}
	if h, ok := parseAcceptLanguage(acceptLanguage); ok && r.set.Contains(h) {
		return h
	}
	return r.set.Default()
}

// sanitizeCookie applies the length bound and the [A-Za-z0-9_-] charset
// restriction. Anything out of shape is treated as an absent cookie.
func sanitizeCookie(v string) (string, bool) {
	if v == "" || len(v) > maxCookieLen {
		return "", false
	}
	for i := 0; i < len(v); i++ {
		b := v[i]
		switch {
		case b >= 'a' && b <= 'z':
		case b >= 'A' && b <= 'Z':
		case b >= '0' && b <= '9':
		case b == '_' || b == '-':
		default:
			return "", false
		}
	}
	return strings.ToLower(v), true
}

// parseAcceptLanguage extracts the language subtag of the first entry,
// lowercased: "en-US,en;q=0.9" -> "en". Malformed or missing headers are
// treated as absent.
func parseAcceptLanguage(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || len(v) > 8 {
		return "", false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 'a' || v[i] > 'z' {
			return "", false
		}
	}
	return v, true
}
