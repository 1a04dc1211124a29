package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// loginEntry drives the lockout state machine for one identifier.
type loginEntry struct {
	count         int
	lastAttemptAt time.Time
}

// LoginResult reports the outcome of one login attempt check.
type LoginResult struct {
	Allowed bool
	// Remaining is the number of attempts left before lockout trips.
	Remaining int
	// LockoutRemaining is non-zero only while locked out.
	LockoutRemaining time.Duration
}

// LoginLimiter throttles login attempts per identifier (client IP plus
// normalized email) with an escalating lockout: Max attempts inside
// Window trip a Lockout during which every attempt is rejected.
type LoginLimiter struct {
	mu      sync.Mutex
	entries map[string]*loginEntry

	window  time.Duration
	max     int
	lockout time.Duration
	now     func() time.Time

	// OnLockout fires once when an identifier trips the lockout.
	OnLockout func(id string)
}

type LoginOption func(*LoginLimiter)

// WithLoginWindow overrides the attempt window.
func WithLoginWindow(d time.Duration) LoginOption {
	return func(l *LoginLimiter) { l.window = d }
}

// WithLoginMax overrides the attempt cap.
func WithLoginMax(n int) LoginOption {
	return func(l *LoginLimiter) { l.max = n }
}

// WithLockout overrides the lockout duration.
func WithLockout(d time.Duration) LoginOption {
	return func(l *LoginLimiter) { l.lockout = d }
}

// WithLoginClock injects a clock for tests.
func WithLoginClock(now func() time.Time) LoginOption {
	return func(l *LoginLimiter) { l.now = now }
}

// WithOnLockout sets the lockout callback.
func WithOnLockout(fn func(id string)) LoginOption {
	return func(l *LoginLimiter) { l.OnLockout = fn }
}

// NewLoginLimiter creates the limiter and starts its background sweep,
// which stops when ctx is cancelled.
func NewLoginLimiter(ctx context.Context, opts ...LoginOption) *LoginLimiter {
	l := &LoginLimiter{
		entries: make(map[string]*loginEntry),
		window:  time.Minute,
		max:     5,
		lockout: 15 * time.Minute,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweep(ctx)
	return l
}

// LoginKey builds the limiter identifier from the client IP and the
// attempted email, normalized so "User@Example.com " and
// "user@example.com" share an entry.
func LoginKey(ip, email string) string {
	return ip + ":" + strings.ToLower(strings.TrimSpace(email))
}

// Check records a login attempt and returns the state-machine outcome.
func (l *LoginLimiter) Check(id string) LoginResult {
	l.mu.Lock()
	now := l.now()

	e, ok := l.entries[id]
	if !ok {
		l.entries[id] = &loginEntry{count: 1, lastAttemptAt: now}
		l.mu.Unlock()
		return LoginResult{Allowed: true, Remaining: l.max - 1}
	}

	if e.count >= l.max {
		elapsed := now.Sub(e.lastAttemptAt)
		if elapsed < l.lockout {
			l.mu.Unlock()
			return LoginResult{LockoutRemaining: l.lockout - elapsed}
		}
		// Lockout expired: start a fresh window.
		*e = loginEntry{count: 1, lastAttemptAt: now}
		l.mu.Unlock()
		return LoginResult{Allowed: true, Remaining: l.max - 1}
	}

	if now.Sub(e.lastAttemptAt) >= l.window {
		// Idle past the window: reset.
		*e = loginEntry{count: 1, lastAttemptAt: now}
		l.mu.Unlock()
		return LoginResult{Allowed: true, Remaining: l.max - 1}
	}

	e.count++
	e.lastAttemptAt = now
	if e.count >= l.max {
		// This attempt trips the lockout.
		l.mu.Unlock()
		if l.OnLockout != nil {
			l.OnLockout(id)
		}
		return LoginResult{LockoutRemaining: l.lockout}
	}
	remaining := l.max - e.count
	l.mu.Unlock()
	return LoginResult{Allowed: true, Remaining: remaining}
}

// sweep evicts entries idle longer than the lockout (which always
// exceeds the attempt window), so a locked identifier is never released
// early.
func (l *LoginLimiter) sweep(ctx context.Context) {
	keep := l.lockout
	if l.window > keep {
		keep = l.window
	}
	ticker := time.NewTicker(keep / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for id, e := range l.entries {
				if now.Sub(e.lastAttemptAt) > keep {
					delete(l.entries, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Len returns the number of tracked identifiers.
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
