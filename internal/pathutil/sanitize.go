// Package pathutil validates and normalizes request pathnames before
// they are used to build redirects.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// MaxPathLen is the longest pathname the pipeline will accept before
// resetting it to "/".
const MaxPathLen = 2048

// Sanitize validates and normalizes a raw request pathname.
//
// Returns ("/", false) for anything that smells like traversal or
// malformed input: dot segments, URL-encoded ".." or "/", NUL bytes,
// control characters, backslashes, or an oversized path. Otherwise
// returns the normalized path (leading slash, duplicate slashes
// collapsed, no trailing slash except root) and true.
func Sanitize(p string) (string, bool) {
	if p == "" {
		return "/", true
	}
	if len(p) > MaxPathLen {
		return "/", false
	}
	if strings.Contains(p, "..") || strings.Contains(p, "\\") {
		return "/", false
	}
	lower := strings.ToLower(p)
	if strings.Contains(lower, "%2e") || strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") {
		return "/", false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] == 0x7f {
			return "/", false
		}
	}
	if HasDotSegments(p) {
		return "/", false
	}
	return normalize(p), true
}

// normalize collapses duplicate slashes and strips a trailing slash
// (root excepted), always returning a path with a leading slash.
func normalize(p string) string {
	var b strings.Builder
	b.Grow(len(p) + 1)
	if p[0] != '/' {
		b.WriteByte('/')
	}
	var prev byte
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' && prev == '/' {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	out := b.String()
	if len(out) > 1 && out[len(out)-1] == '/' {
		out = out[:len(out)-1]
	}
	if out == "" {
		return "/"
	}
	return out
}
