package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/Okazakee/okazakee-ws-sub000/internal/authgate"
	"github.com/Okazakee/okazakee-ws-sub000/internal/cfg"
	"github.com/Okazakee/okazakee-ws-sub000/internal/cfgsource"
	"github.com/Okazakee/okazakee-ws-sub000/internal/health"
	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
	"github.com/Okazakee/okazakee-ws-sub000/internal/httpserver"
	"github.com/Okazakee/okazakee-ws-sub000/internal/locale"
	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
	"github.com/Okazakee/okazakee-ws-sub000/internal/metrics"
	"github.com/Okazakee/okazakee-ws-sub000/internal/opshttp"
	"github.com/Okazakee/okazakee-ws-sub000/internal/otelx"
	"github.com/Okazakee/okazakee-ws-sub000/internal/pipeline"
	"github.com/Okazakee/okazakee-ws-sub000/internal/prof"
	"github.com/Okazakee/okazakee-ws-sub000/internal/ratelimit"
	"github.com/Okazakee/okazakee-ws-sub000/internal/routing"
	"github.com/Okazakee/okazakee-ws-sub000/internal/session"
	v "github.com/Okazakee/okazakee-ws-sub000/internal/version"
)

const appName = "okazakee-edge"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// local dev convenience; absent file is fine
	_ = godotenv.Load()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix OKZK_ and validate
	cfg.FillFromEnv(flag.CommandLine, "OKZK_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             appName,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "edge")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"locales", conf.Locales,
		"default_locale", conf.DefaultLocale,
		"protected_prefix", conf.ProtectedPrefix,
		"upstream_url", conf.UpstreamURL,
		"matcher_config", conf.MatcherConfigPath,
		"matcher_ssm_param", conf.MatcherSSMParam,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		AuthToken:     "",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "edge",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "edge",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "edge", vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// Route matcher rules: builtin defaults, a local file, or SSM (with
	// hot reload). The store makes the active classifier swappable.
	classifier := routing.Default()
	if conf.MatcherConfigPath != "" {
		classifier, err = routing.LoadFile(conf.MatcherConfigPath)
		if err != nil {
			L.Error(ctx, err, "failed to load matcher config", "path", conf.MatcherConfigPath)
			os.Exit(1)
		}
		L.Info(ctx, "loaded matcher rules from file", "path", conf.MatcherConfigPath)
	}
	store := routing.NewStore(classifier)

	if conf.MatcherSSMParam != "" {
		rulesLoader, err := cfgsource.NewLoader(ctx, cfgsource.LoaderOptions{
			Logger:   L,
			SSMParam: conf.MatcherSSMParam,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create matcher rules loader, using builtin rules")
		} else {
			seedDigest := ""
			if c, digest, err := rulesLoader.LoadClassifier(ctx); err != nil {
				L.Error(ctx, err, "failed to load matcher rules from SSM, using builtin rules until the watcher succeeds")
			} else {
				store.Swap(c)
				seedDigest = digest
			}
			watcher := cfgsource.NewWatcher(&cfgsource.WatcherOptions{
				Logger:     L,
				Loader:     rulesLoader,
				Store:      store,
				SeedDigest: seedDigest,
			})
			go watcher.Run(ctx)
		}
	}

	// Locale negotiation
	set, err := locale.NewSet(conf.LocaleList(), conf.DefaultLocale)
	if err != nil {
		L.Error(ctx, err, "invalid locale configuration")
		os.Exit(1)
	}
	cache := locale.NewCache(ctx,
		locale.WithCacheHooks(m.IncLocaleCacheHit, m.IncLocaleCacheMiss),
	)
	resolver := locale.NewResolver(set, cache)

	// Auth gate: only active when an auth backend is configured
	var gate *authgate.Gate
	if conf.AuthBaseURL != "" {
		provider := session.NewClient(conf.AuthBaseURL, conf.AuthAPIKey,
			session.WithCookiePrefix(conf.SessionCookiePrefix),
		)
		gate = authgate.New(provider,
			authgate.WithProtectedPrefix(conf.ProtectedPrefix),
			authgate.WithLoginPath(conf.LoginPath),
			authgate.WithCookiePrefix(conf.SessionCookiePrefix),
		)
	} else {
		L.Warn(ctx, "no auth backend configured, protected routes are open")
	}

	pipe := pipeline.New(store, resolver, gate,
		pipeline.WithLocaleCookie(conf.LocaleCookie),
		pipeline.WithSessionCookiePrefix(conf.SessionCookiePrefix),
		pipeline.WithHooks(pipeline.Hooks{
			OnBypass:         func(kind routing.Kind) { m.IncPipelineBypass(string(kind)) },
			OnLocaleRedirect: m.IncLocaleRedirect,
			OnDedupShared:    m.IncDedupShared,
			OnGateRedirect:   m.IncGateRedirect,
			OnSessionClear:   m.IncStaleSessionClear,
			OnFailOpen:       m.IncPipelineFailOpen,
		}),
	)

	// Outer flood guard: per-IP token bucket
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limiter tracking capacity reached, rejecting new ips until eviction")
		}),
	)

	// Inner policies: fixed window on API routes, lockout on login attempts
	apiWindow := ratelimit.NewFixedWindow(ctx,
		ratelimit.WithWindowOnDenied(func(id string) {
			m.IncRateLimitDenied()
		}),
	)
	loginLimiter := ratelimit.NewLoginLimiter(ctx,
		ratelimit.WithOnLockout(func(id string) {
			m.IncLoginLockout()
			L.Warn(ctx, "login lockout tripped", "id", id)
		}),
	)
	policyMW := ratelimit.TwoTier(ratelimit.TwoTierOptions{
		Window:         apiWindow,
		Match:          func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/api/") },
		Login:          loginLimiter,
		LoginPath:      conf.LoginPath,
		OnLoginDenied:  m.IncLoginDenied,
		OnWindowDenied: m.IncRateLimitDenied,
	})

	// Upstream reverse proxy
	upstreamURL, err := url.Parse(conf.UpstreamURL)
	if err != nil {
		L.Error(ctx, err, "invalid upstream url", "upstream_url", conf.UpstreamURL)
		os.Exit(1)
	}
	upstream := httpserver.NewUpstreamProxy(upstreamURL, L)

	// setup toggle for server shutdown
	var gateHealth health.ShutdownGate
	readiness := health.All(
		gateHealth.Probe(),
	)

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Port:         conf.HTTPPort,
		Logger:       L,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW: func(next http.Handler) http.Handler {
			return limiter.Middleware(policyMW(next))
		},
		PipelineMW: pipe.Middleware,
		APIRoutes: func(r chi.Router) {
			r.Post("/api/auth/ratecheck", ratelimit.LoginCheckHandler(loginLimiter, m.IncLoginDenied))
		},
		Upstream: upstream,
		ClientIPOpts: httpmw.ClientIPOptions{
			TrustedHops: conf.TrustedHops,
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start edge http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks and pprof
	// sg restricts inbound to internal monitoring infrastructure; we also
	// reject connections from public ips in middleware to prevent
	// accidental exposure if the sg is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections
	gateHealth.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	L.Info(context.Background(), "sleeping 60s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "edge http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
