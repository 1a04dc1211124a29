// Package dedup collapses concurrent identical requests into a single
// downstream execution, fanning the one result out to every caller.
//
// Backed by x/sync/singleflight: the check-then-register step is atomic,
// and the in-flight entry is removed when the call settles regardless of
// outcome, so the map never retains entries for completed requests.
package dedup

import (
	"strings"

	"golang.org/x/sync/singleflight"
)

// keySep separates key parts; a unit separator cannot appear in a
// pathname, header, or cookie value that survived validation.
const keySep = "\x1f"

// Key derives the deduplication key from the request attributes that
// determine an identical pipeline outcome.
func Key(pathname, acceptLanguage, localeCookie string) string {
	return pathname + keySep + acceptLanguage + keySep + localeCookie
}

// KeyParts is the inverse of Key, for logging and tests.
func KeyParts(key string) []string {
	return strings.Split(key, keySep)
}

// Group deduplicates calls by key. The zero value is not usable; use New.
type Group[T any] struct {
	sf singleflight.Group

	// OnShared is called once per caller that joined an existing
	// in-flight execution instead of starting its own.
	OnShared func()
}

// New returns an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{}
}

// Do executes fn under key, or joins an execution already in flight for
// the same key. All callers observe the same value and error. shared
// reports whether this caller joined rather than executed.
//
// singleflight reports its own shared flag as true for every caller of
// a shared batch, the executor included, so the executor is identified
// by whether this call's closure actually ran.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	var executed bool
	res, err, _ := g.sf.Do(key, func() (any, error) {
		executed = true
		return fn()
	})
	shared = !executed
	if shared && g.OnShared != nil {
		g.OnShared()
	}
	if res != nil {
		v = res.(T)
	}
	return v, shared, err
}
