// Package locale implements locale negotiation for inbound requests:
// a validated locale set, a priority-ordered resolver (path > cookie >
// Accept-Language > default), and a TTL-bounded resolution cache.
package locale

import (
	"fmt"
	"strings"
)

// Set is the immutable list of supported locales plus the configured
// default. Built once at startup; every locale the resolver returns is
// a member of this set.
type Set struct {
	codes   []string
	members map[string]struct{}
	def     string
}

// NewSet validates codes (each a 2-letter lowercase language code) and
// the default (which must be a member). Returns an error describing the
// first invalid entry; callers treat that as a fatal configuration error.
func NewSet(codes []string, def string) (Set, error) {
	if len(codes) == 0 {
		return Set{}, fmt.Errorf("locale list is empty")
	}
	members := make(map[string]struct{}, len(codes))
	clean := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if !validCode(c) {
			return Set{}, fmt.Errorf("invalid locale code %q (must be 2 lowercase letters)", c)
		}
		if _, dup := members[c]; dup {
			return Set{}, fmt.Errorf("duplicate locale code %q", c)
		}
		members[c] = struct{}{}
		clean = append(clean, c)
	}
	if _, ok := members[def]; !ok {
		return Set{}, fmt.Errorf("default locale %q is not in the locale list %v", def, clean)
	}
	return Set{codes: clean, members: members, def: def}, nil
}

func validCode(c string) bool {
	if len(c) != 2 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'a' || c[i] > 'z' {
			return false
		}
	}
	return true
}

// Default returns the configured default locale.
func (s Set) Default() string { return s.def }

// Codes returns the supported locale codes in configuration order.
func (s Set) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

// Contains reports whether code is a supported locale.
func (s Set) Contains(code string) bool {
	_, ok := s.members[code]
	return ok
}

// FromPath extracts the leading locale segment from a URL path.
// "/en/blog" -> ("en", true); "/blog" -> ("", false). A bare "/en" or
// "/en/" also matches.
func (s Set) FromPath(path string) (string, bool) {
	if len(path) < 3 || path[0] != '/' {
		return "", false
	}
	seg := path[1:]
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if s.Contains(seg) {
		return seg, true
	}
	return "", false
}

// StripPath removes the leading locale segment, returning the remainder
// of the path (always starting with "/"). "/en/cms/posts" -> "/cms/posts".
func (s Set) StripPath(path string) string {
	loc, ok := s.FromPath(path)
	if !ok {
		return path
	}
	rest := path[1+len(loc):]
	if rest == "" {
		return "/"
	}
	return rest
}
