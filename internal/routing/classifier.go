// Package routing decides, per request pathname, whether the edge
// pipeline applies at all. Static assets, framework-internal paths, and
// API routes bypass locale negotiation and auth gating entirely.
package routing

import (
	"fmt"
	"regexp"
)

// Kind tags a matcher with the class of traffic it identifies.
type Kind string

const (
	KindStaticAsset Kind = "static_asset"
	KindInternal    Kind = "internal"
	KindAPI         Kind = "api"
	KindStaticDir   Kind = "static_dir"
)

// Decision is the classifier outcome for one pathname.
type Decision struct {
	// Bypass is true when the pipeline should not touch the request.
	Bypass bool
	// Kind names the matcher that won, empty for app routes.
	Kind Kind
}

// AppRoute is the fall-through decision: run the pipeline.
var AppRoute = Decision{}

// compiledMatcher pairs a kind with the compiled pattern identifying
// it. Matchers are evaluated in order; first match wins.
type compiledMatcher struct {
	kind    Kind
	pattern *regexp.Regexp
}

// Classifier evaluates an ordered matcher list. Pure: no side effects,
// deterministic over the pathname string.
type Classifier struct {
	matchers []compiledMatcher
}

// NewClassifier compiles raw (kind, pattern) pairs in order.
func NewClassifier(rules []Rule) (*Classifier, error) {
	ms := make([]compiledMatcher, 0, len(rules))
	for _, r := range rules {
		if !validKind(r.Kind) {
			return nil, fmt.Errorf("matcher %q: unknown kind %q", r.Pattern, r.Kind)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("matcher %q: %w", r.Pattern, err)
		}
		ms = append(ms, compiledMatcher{kind: Kind(r.Kind), pattern: re})
	}
	return &Classifier{matchers: ms}, nil
}

func validKind(k string) bool {
	switch Kind(k) {
	case KindStaticAsset, KindInternal, KindAPI, KindStaticDir:
		return true
	}
	return false
}

// Classify returns the decision for the given pathname. Malformed or
// overlong input never fails here; anything unmatched is an app route
// and is handled defensively by path validation later.
func (c *Classifier) Classify(pathname string) Decision {
	for _, m := range c.matchers {
		if m.pattern.MatchString(pathname) {
			return Decision{Bypass: true, Kind: m.kind}
		}
	}
	return AppRoute
}
