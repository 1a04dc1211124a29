package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Okazakee/okazakee-ws-sub000/internal/health"
	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()

	// MetricsMW instruments every request for prometheus.
	MetricsMW func(http.Handler) http.Handler

	// RateLimitMW applies the per-IP limiter; runs after client IP
	// resolution so it keys on the real peer.
	RateLimitMW func(http.Handler) http.Handler

	// PipelineMW is the edge request pipeline (locale resolution, path
	// validation, auth gate). Runs innermost, just before the router.
	PipelineMW func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers explicit edge-owned routes (login throttle
	// endpoint, etc). Optional.
	APIRoutes func(chi.Router)

	// Upstream handles everything no explicit route claims; in
	// production this is the reverse proxy to the app origin.
	Upstream http.Handler

	ClientIPOpts httpmw.ClientIPOptions
}
