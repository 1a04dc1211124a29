package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestLogin(t *testing.T, opts ...LoginOption) (*LoginLimiter, *manualClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := newManualClock()
	all := append([]LoginOption{WithLoginClock(clk.Now)}, opts...)
	return NewLoginLimiter(ctx, all...), clk
}

func TestLoginKey(t *testing.T) {
	a := LoginKey("203.0.113.7", "User@Example.com ")
	b := LoginKey("203.0.113.7", "user@example.com")
	if a != b {
		t.Fatalf("normalized keys differ: %q vs %q", a, b)
	}
	if a == LoginKey("203.0.113.8", "user@example.com") {
		t.Fatal("different IPs must not share a key")
	}
}

// The full reference scenario: 4 allowed, the 5th trips a 15 minute
// lockout, further attempts report a decreasing remainder, and the
// lockout expiring resets the window.
func TestLogin_LockoutScenario(t *testing.T) {
	l, clk := newTestLogin(t)
	id := LoginKey("203.0.113.7", "user@example.com")

	for i := 1; i <= 4; i++ {
		res := l.Check(id)
		if !res.Allowed {
			t.Fatalf("attempt %d: want allowed", i)
		}
		if want := 5 - i; res.Remaining != want {
			t.Fatalf("attempt %d: remaining = %d, want %d", i, res.Remaining, want)
		}
		clk.Advance(5 * time.Second)
	}

	res := l.Check(id)
	if res.Allowed {
		t.Fatal("attempt 5: want rejected (lockout tripped)")
	}
	if res.LockoutRemaining != 15*time.Minute {
		t.Fatalf("attempt 5: lockout remaining = %v, want 15m", res.LockoutRemaining)
	}

	clk.Advance(2 * time.Minute)
	res = l.Check(id)
	if res.Allowed {
		t.Fatal("attempt during lockout: want rejected")
	}
	if res.LockoutRemaining != 13*time.Minute {
		t.Fatalf("lockout remaining = %v, want 13m (decreasing)", res.LockoutRemaining)
	}

	clk.Advance(13*time.Minute + time.Second)
	res = l.Check(id)
	if !res.Allowed {
		t.Fatal("attempt after lockout expiry: want allowed")
	}
	if res.Remaining != 4 {
		t.Fatalf("post-lockout remaining = %d, want 4", res.Remaining)
	}
}

func TestLogin_WindowIdleResets(t *testing.T) {
	l, clk := newTestLogin(t)
	id := "ip:someone@example.com"

	l.Check(id)
	l.Check(id)
	l.Check(id) // count 3

	clk.Advance(61 * time.Second)
	res := l.Check(id)
	if !res.Allowed || res.Remaining != 4 {
		t.Fatalf("after idle window: %+v, want allowed with remaining 4", res)
	}
}

func TestLogin_RejectionDuringLockoutDoesNotExtendIt(t *testing.T) {
	l, clk := newTestLogin(t)
	id := "ip:a@b.c"

	for i := 0; i < 5; i++ {
		l.Check(id)
	}
	// Rejected attempts while locked must not refresh lastAttemptAt.
	for i := 0; i < 3; i++ {
		clk.Advance(4 * time.Minute)
		if res := l.Check(id); res.Allowed {
			t.Fatalf("attempt at +%dm: want rejected", (i+1)*4)
		}
	}
	clk.Advance(4 * time.Minute) // 16m after the trip
	if res := l.Check(id); !res.Allowed {
		t.Fatalf("lockout should have expired, got %+v", res)
	}
}

func TestLogin_OnLockoutFiresOnce(t *testing.T) {
	var lockouts int
	l, _ := newTestLogin(t, WithOnLockout(func(string) { lockouts++ }))

	for i := 0; i < 8; i++ {
		l.Check("id")
	}
	if lockouts != 1 {
		t.Fatalf("lockout callback fired %d times, want 1", lockouts)
	}
}

func TestLogin_CustomLimits(t *testing.T) {
	l, clk := newTestLogin(t,
		WithLoginMax(2),
		WithLoginWindow(10*time.Second),
		WithLockout(time.Minute),
	)

	if res := l.Check("id"); !res.Allowed || res.Remaining != 1 {
		t.Fatalf("first: %+v", res)
	}
	if res := l.Check("id"); res.Allowed || res.LockoutRemaining != time.Minute {
		t.Fatalf("second should trip custom lockout: %+v", res)
	}
	clk.Advance(61 * time.Second)
	if res := l.Check("id"); !res.Allowed {
		t.Fatalf("after custom lockout: %+v", res)
	}
}
