package routing

import "sync/atomic"

// Matcher is the read side of a classifier. Both *Classifier and *Store
// satisfy it.
type Matcher interface {
	Classify(pathname string) Decision
}

// Store holds the active classifier behind an atomic pointer so rules
// fetched at runtime can be hot-swapped without locking the request path.
type Store struct {
	p atomic.Pointer[Classifier]
}

// NewStore returns a Store seeded with c.
func NewStore(c *Classifier) *Store {
	s := &Store{}
	s.p.Store(c)
	return s
}

func (s *Store) Classify(pathname string) Decision {
	return s.p.Load().Classify(pathname)
}

// Swap replaces the active classifier. A nil classifier is ignored.
func (s *Store) Swap(c *Classifier) {
	if c != nil {
		s.p.Store(c)
	}
}

// Current returns the classifier currently in use.
func (s *Store) Current() *Classifier {
	return s.p.Load()
}
