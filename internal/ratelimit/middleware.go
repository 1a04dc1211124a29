package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
)

// TwoTierOptions wires the fixed-window and login policies into one
// middleware. Either limiter may be nil to disable that tier.
type TwoTierOptions struct {
	// Window is the per-IP request budget applied to requests Match
	// selects (typically API routes).
	Window *FixedWindow

	// Match selects which requests count against Window. Nil disables
	// the window tier.
	Match func(r *http.Request) bool

	// Login throttles login attempts with an escalating lockout.
	Login *LoginLimiter

	// LoginPath is the locale-stripped login page path. A POST whose
	// path ends with it counts as a login attempt.
	LoginPath string

	// OnLoginDenied fires on every throttled login attempt.
	OnLoginDenied func()

	// OnWindowDenied fires on every window rejection.
	OnWindowDenied func()
}

// TwoTier returns middleware enforcing both policies, keyed on the
// resolved client IP. Relies on the client-IP middleware having run
// first.
func TwoTier(opts TwoTierOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httpmw.ClientIPFromContext(r.Context())

			if opts.Login != nil && isLoginAttempt(r, opts.LoginPath) {
				res := opts.Login.Check(LoginKey(ip, ""))
				if !res.Allowed {
					if opts.OnLoginDenied != nil {
						opts.OnLoginDenied()
					}
					retryAfter := res.LockoutRemaining
					if retryAfter <= 0 {
						retryAfter = time.Minute
					}
					tooMany(w, retryAfter)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if opts.Window != nil && opts.Match != nil && opts.Match(r) {
				if !opts.Window.Allow(ip) {
					if opts.OnWindowDenied != nil {
						opts.OnWindowDenied()
					}
					tooMany(w, time.Minute)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isLoginAttempt matches POSTs to the login page under any locale
// prefix ("/en/cms/login" ends with "/cms/login").
func isLoginAttempt(r *http.Request, loginPath string) bool {
	if loginPath == "" || r.Method != http.MethodPost {
		return false
	}
	return strings.HasSuffix(r.URL.Path, loginPath)
}

func tooMany(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	w.WriteHeader(http.StatusTooManyRequests)
	// No limit/budget details on purpose.
	w.Write([]byte(`{"error":"too many requests"}`))
}
