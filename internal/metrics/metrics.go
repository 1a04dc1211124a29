package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Okazakee/okazakee-ws-sub000/internal/version"
)

type ServerMetrics struct {
	reg      *prometheus.Registry
	handler  http.Handler
	inflight prometheus.Gauge
	reqTotal *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec

	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	loginDeniedTotal       prometheus.Counter
	loginLockoutsTotal     prometheus.Counter

	pipelineBypassTotal     *prometheus.CounterVec
	localeRedirectsTotal    *prometheus.CounterVec
	localeCacheHitsTotal    prometheus.Counter
	localeCacheMissesTotal  prometheus.Counter
	dedupSharedTotal        prometheus.Counter
	gateRedirectsTotal      prometheus.Counter
	pipelineFailOpensTotal  prometheus.Counter
	staleSessionClearsTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code, locale) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		loginDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "login_attempts_rate_limited_total",
			Help: "Total login attempts rejected by the login limiter",
		}),
		loginLockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "login_lockouts_total",
			Help: "Total login lockouts tripped",
		}),
		pipelineBypassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_bypass_total",
			Help: "Requests that bypassed the locale/auth pipeline by kind",
		}, []string{"kind"}),
		localeRedirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locale_redirects_total",
			Help: "Locale-prefix redirects issued by resolved locale",
		}, []string{"locale"}),
		localeCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "locale_cache_hits_total",
			Help: "Locale resolution cache hits",
		}),
		localeCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "locale_cache_misses_total",
			Help: "Locale resolution cache misses",
		}),
		dedupSharedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_dedup_shared_total",
			Help: "Redirect decisions served from an in-flight duplicate",
		}),
		gateRedirectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_gate_redirects_total",
			Help: "Redirects issued by the auth gate",
		}),
		pipelineFailOpensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_fail_opens_total",
			Help: "Pipeline failures degraded into a default-locale redirect",
		}),
		staleSessionClearsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stale_session_clears_total",
			Help: "Responses that expired stale session cookies",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.loginDeniedTotal,
		m.loginLockoutsTotal,
		m.pipelineBypassTotal,
		m.localeRedirectsTotal,
		m.localeCacheHitsTotal,
		m.localeCacheMissesTotal,
		m.dedupSharedTotal,
		m.gateRedirectsTotal,
		m.pipelineFailOpensTotal,
		m.staleSessionClearsTotal,
		m.errorsTotal,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) IncLoginDenied() {
	m.loginDeniedTotal.Inc()
}

func (m *ServerMetrics) IncLoginLockout() {
	m.loginLockoutsTotal.Inc()
}

func (m *ServerMetrics) IncPipelineBypass(kind string) {
	m.pipelineBypassTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncLocaleRedirect(locale string) {
	m.localeRedirectsTotal.WithLabelValues(locale).Inc()
}

func (m *ServerMetrics) IncLocaleCacheHit() {
	m.localeCacheHitsTotal.Inc()
}

func (m *ServerMetrics) IncLocaleCacheMiss() {
	m.localeCacheMissesTotal.Inc()
}

func (m *ServerMetrics) IncDedupShared() {
	m.dedupSharedTotal.Inc()
}

func (m *ServerMetrics) IncGateRedirect() {
	m.gateRedirectsTotal.Inc()
}

func (m *ServerMetrics) IncPipelineFailOpen() {
	m.pipelineFailOpensTotal.Inc()
}

func (m *ServerMetrics) IncStaleSessionClear() {
	m.staleSessionClearsTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
