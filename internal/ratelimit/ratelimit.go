package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
)

// client tracks one IP's token bucket and last activity.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged marks that the first-denial log for this client already
	// fired; resets when the entry is evicted and re-created.
	logged bool
}

// IPLimiter is the outer flood guard: a per-IP token bucket sitting in
// front of the pipeline, independent of the fixed-window and login
// policies. Stale entries are evicted by a background goroutine.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	// maxClients bounds the tracked-IP map; 0 disables the bound.
	// New IPs arriving at capacity are rejected until eviction frees
	// room, existing IPs keep their buckets.
	maxClients int
	// capacityHit marks that OnCapacity already fired for the current
	// full-map episode; cleanup resets it once the map shrinks.
	capacityHit bool

	// OnFirstDenied fires once per client on its first rejection.
	OnFirstDenied func(ip string)
	// OnDenied fires on every rejection.
	OnDenied func(ip string)
	// OnCapacity fires once when the map first fills.
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket capacity.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle IP stays tracked before eviction.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithOnFirstDenied sets the once-per-client denial callback, kept
// separate from OnDenied so logging fires once while counters fire on
// every rejection.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnFirstDenied = fn }
}

// WithOnDenied sets the every-denial callback.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnDenied = fn }
}

// WithMaxClients bounds how many IPs are tracked at once; 0 means
// unbounded.
func WithMaxClients(n int) Option {
	return func(l *IPLimiter) { l.maxClients = n }
}

// WithOnCapacity sets the callback fired when the tracked-IP map fills.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.OnCapacity = fn }
}

// New creates an IPLimiter and starts its cleanup goroutine, cancelled
// through ctx at shutdown.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		clients:    make(map[string]*client),
		perSecond:  20,
		burst:      60,
		ttl:        5 * time.Minute,
		maxClients: 100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

func (l *IPLimiter) allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		if l.maxClients > 0 && len(l.clients) >= l.maxClients {
			fireCapacity := !l.capacityHit
			l.capacityHit = true
			l.mu.Unlock()
			if fireCapacity && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(ip)
			}
			return false
		}
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	allowed := c.limiter.Allow()

	if !allowed && !c.logged {
		c.logged = true
		// Drop the lock before the hooks; they may do slow work.
		l.mu.Unlock()
		if l.OnFirstDenied != nil {
			l.OnFirstDenied(ip)
		}
		if l.OnDenied != nil {
			l.OnDenied(ip)
		}
		return false
	}
	l.mu.Unlock()

	if !allowed && l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return allowed
}

func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if now.Sub(c.lastSeen) > l.ttl {
					delete(l.clients, ip)
				}
			}
			if l.maxClients == 0 || len(l.clients) < l.maxClients {
				l.capacityHit = false
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-IP budget with 429. Relies on
// the client-IP middleware having run first.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())
		if !l.allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			// No limit/budget details on purpose.
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
