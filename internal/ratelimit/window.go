package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowEntry is one identifier's state within the current fixed window.
type windowEntry struct {
	count       int
	windowStart time.Time
}

// FixedWindow is a fixed-window counter: at most Max events per
// identifier per Window. Once an identifier hits the cap, further
// attempts are rejected without advancing the count, so the window
// expires on schedule.
type FixedWindow struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	window time.Duration
	max    int
	now    func() time.Time

	// OnDenied is called for every rejected attempt.
	OnDenied func(id string)
}

type WindowOption func(*FixedWindow)

// WithWindow overrides the window length.
func WithWindow(d time.Duration) WindowOption {
	return func(l *FixedWindow) { l.window = d }
}

// WithMax overrides the per-window cap.
func WithMax(n int) WindowOption {
	return func(l *FixedWindow) { l.max = n }
}

// WithWindowClock injects a clock for tests.
func WithWindowClock(now func() time.Time) WindowOption {
	return func(l *FixedWindow) { l.now = now }
}

// WithWindowOnDenied sets the denial callback.
func WithWindowOnDenied(fn func(id string)) WindowOption {
	return func(l *FixedWindow) { l.OnDenied = fn }
}

// NewFixedWindow creates the limiter and starts its background sweep,
// which evicts entries whose window has lapsed and stops when ctx is
// cancelled.
func NewFixedWindow(ctx context.Context, opts ...WindowOption) *FixedWindow {
	l := &FixedWindow{
		entries: make(map[string]*windowEntry),
		window:  time.Minute,
		max:     10,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweep(ctx)
	return l
}

// Allow records an attempt for id and reports whether it is within the
// window budget.
func (l *FixedWindow) Allow(id string) bool {
	l.mu.Lock()
	now := l.now()

	e, ok := l.entries[id]
	if !ok || now.Sub(e.windowStart) >= l.window {
		l.entries[id] = &windowEntry{count: 1, windowStart: now}
		l.mu.Unlock()
		return true
	}
	if e.count < l.max {
		e.count++
		l.mu.Unlock()
		return true
	}
	// At the cap: reject without touching the count.
	l.mu.Unlock()

	if l.OnDenied != nil {
		l.OnDenied(id)
	}
	return false
}

func (l *FixedWindow) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for id, e := range l.entries {
				if now.Sub(e.windowStart) >= l.window {
					delete(l.entries, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Len returns the number of tracked identifiers.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
