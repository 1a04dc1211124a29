package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
)

func newTestIPLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	defaults := []Option{
		WithRate(1, 3), // slow refill, small burst keeps tests fast
		WithTTL(100 * time.Millisecond),
	}
	return New(ctx, append(defaults, opts...)...)
}

func TestIPLimiter_BurstThenReject(t *testing.T) {
	l := newTestIPLimiter(t)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request over burst should be denied")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("other IP should have its own bucket")
	}
}

func TestIPLimiter_FirstDeniedOnce(t *testing.T) {
	var first, every atomic.Int32
	l := newTestIPLimiter(t,
		WithRate(1, 1),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { every.Add(1) }),
	)

	l.allow("ip")
	l.allow("ip")
	l.allow("ip")
	l.allow("ip")

	if first.Load() != 1 {
		t.Errorf("OnFirstDenied fired %d times, want 1", first.Load())
	}
	if every.Load() != 3 {
		t.Errorf("OnDenied fired %d times, want 3", every.Load())
	}
}

func TestIPLimiter_Cleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New(ctx, WithRate(1, 1), WithTTL(30*time.Millisecond))

	l.allow("10.0.0.1")
	time.Sleep(100 * time.Millisecond)

	l.mu.Lock()
	_, exists := l.clients["10.0.0.1"]
	l.mu.Unlock()
	if exists {
		t.Fatal("idle client should have been evicted")
	}
}

func TestIPLimiter_MaxClients(t *testing.T) {
	var caps, denied atomic.Int32
	l := newTestIPLimiter(t,
		WithRate(100, 100), // generous limits so denials are only from the cap
		WithMaxClients(3),
		WithOnCapacity(func() { caps.Add(1) }),
		WithOnDenied(func(string) { denied.Add(1) }),
	)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if !l.allow(ip) {
			t.Fatalf("ip %s should be allowed while below the cap", ip)
		}
	}

	if l.allow("10.0.0.99") {
		t.Fatal("new IP should be rejected with the map full")
	}
	if l.allow("10.0.0.100") {
		t.Fatal("new IP should be rejected with the map full")
	}
	if !l.allow("10.0.0.1") {
		t.Fatal("existing IP should still be allowed with the map full")
	}

	if caps.Load() != 1 {
		t.Errorf("OnCapacity fired %d times, want 1", caps.Load())
	}
	if denied.Load() != 2 {
		t.Errorf("OnDenied fired %d times, want 2", denied.Load())
	}
}

func TestIPLimiter_MaxClientsZeroUnbounded(t *testing.T) {
	l := newTestIPLimiter(t, WithRate(100, 100), WithMaxClients(0))

	for i := 0; i < 200; i++ {
		ip := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		if !l.allow(ip) {
			t.Fatalf("ip %s rejected with no cap configured", ip)
		}
	}
}

func TestIPLimiter_EvictionFreesCapacity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New(ctx, WithRate(100, 100), WithMaxClients(2), WithTTL(30*time.Millisecond))

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	if l.allow("10.0.0.3") {
		t.Fatal("should be rejected with the map full")
	}

	time.Sleep(100 * time.Millisecond)

	if !l.allow("10.0.0.3") {
		t.Fatal("new IP should be allowed after eviction freed room")
	}
}

func TestIPLimiter_Middleware429(t *testing.T) {
	l := newTestIPLimiter(t, WithRate(1, 1))

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/blog", nil)
		req = req.WithContext(httpmw.WithClientIP(req.Context(), "198.51.100.9"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(); code != http.StatusOK {
		t.Fatalf("first request: %d, want 200", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", code)
	}
}
