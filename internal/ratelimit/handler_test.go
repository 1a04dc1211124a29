package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
)

func postRateCheck(t *testing.T, h http.Handler, ip, email string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"email": {email}}
	req := httptest.NewRequest("POST", "/api/auth/ratecheck", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoginCheckHandler_AllowedThenLockedOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := newManualClock()

	login := NewLoginLimiter(ctx, WithLoginClock(clk.Now), WithLoginMax(3))
	var denied int
	h := LoginCheckHandler(login, func() { denied++ })

	for i := 0; i < 2; i++ {
		rec := postRateCheck(t, h, "10.0.0.1", "user@example.com")
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i+1, rec.Code)
		}
		var body loginCheckResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("attempt %d: decode: %v", i+1, err)
		}
		if !body.Allowed || body.Remaining != 3-(i+1) {
			t.Fatalf("attempt %d: body = %+v", i+1, body)
		}
	}

	rec := postRateCheck(t, h, "10.0.0.1", "user@example.com")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("tripping attempt: status = %d, want 429", rec.Code)
	}
	if denied != 1 {
		t.Fatalf("onDenied calls = %d, want 1", denied)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing on locked-out check")
	}

	// lockout expires
	clk.Advance(16 * time.Minute)
	if rec := postRateCheck(t, h, "10.0.0.1", "user@example.com"); rec.Code != http.StatusOK {
		t.Fatalf("after lockout: status = %d, want 200", rec.Code)
	}
}

func TestLoginCheckHandler_KeyedPerIPAndEmail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	login := NewLoginLimiter(ctx, WithLoginMax(2))
	h := LoginCheckHandler(login, nil)

	// exhaust one identifier
	postRateCheck(t, h, "10.0.0.1", "a@example.com")
	if rec := postRateCheck(t, h, "10.0.0.1", "a@example.com"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted identifier: status = %d, want 429", rec.Code)
	}

	// same IP with another email, and another IP with the same email,
	// still pass
	if rec := postRateCheck(t, h, "10.0.0.1", "b@example.com"); rec.Code != http.StatusOK {
		t.Fatalf("other email: status = %d, want 200", rec.Code)
	}
	if rec := postRateCheck(t, h, "10.0.0.2", "a@example.com"); rec.Code != http.StatusOK {
		t.Fatalf("other IP: status = %d, want 200", rec.Code)
	}
}

func TestLoginCheckHandler_EmailNormalized(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	login := NewLoginLimiter(ctx, WithLoginMax(2))
	h := LoginCheckHandler(login, nil)

	postRateCheck(t, h, "10.0.0.1", "User@Example.com ")
	if rec := postRateCheck(t, h, "10.0.0.1", "user@example.com"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("case variant: status = %d, want shared entry and 429", rec.Code)
	}
}
