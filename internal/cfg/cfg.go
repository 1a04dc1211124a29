// Package cfg holds the application configuration: flag registration,
// environment fill-in, and validation. Precedence is cli flag > env var
// > default, with env vars prefixed OKZK_.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	Locales             string
	DefaultLocale       string
	LocaleCookie        string
	SessionCookiePrefix string

	ProtectedPrefix string
	LoginPath       string
	AuthBaseURL     string
	AuthAPIKey      string

	UpstreamURL string
	TrustedHops int

	MatcherConfigPath string
	MatcherSSMParam   string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.StringVar(&c.Locales, "locales", "en,it", "comma-separated list of supported locale codes")
	fs.StringVar(&c.DefaultLocale, "default-locale", "en", "fallback locale (must be in -locales)")
	fs.StringVar(&c.LocaleCookie, "locale-cookie", "preferred_locale", "locale preference cookie name")
	fs.StringVar(&c.SessionCookiePrefix, "session-cookie-prefix", "sb-", "session cookie name prefix")
	fs.StringVar(&c.ProtectedPrefix, "protected-prefix", "/cms", "locale-stripped path prefix requiring a session")
	fs.StringVar(&c.LoginPath, "login-path", "/cms/login", "locale-relative login page path")
	fs.StringVar(&c.AuthBaseURL, "auth-base-url", "", "auth backend base URL for session validation")
	fs.StringVar(&c.AuthAPIKey, "auth-api-key", "", "auth backend api key")
	fs.StringVar(&c.UpstreamURL, "upstream-url", "http://127.0.0.1:3000", "app origin the edge proxies to")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies for X-Forwarded-For")
	fs.StringVar(&c.MatcherConfigPath, "matcher-config", "", "optional YAML file with route matcher rules")
	fs.StringVar(&c.MatcherSSMParam, "matcher-ssm-param", "", "optional SSM parameter holding matcher rules YAML")
	fs.Float64Var(&c.RateLimitRPS, "ratelimit-rps", 20, "per-client sustained requests per second")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 60, "per-client burst allowance")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// LocaleList splits the configured locales into a slice.
func (c App) LocaleList() []string {
	parts := strings.Split(c.Locales, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Locales
	locales := c.LocaleList()
	if len(locales) == 0 {
		errs = append(errs, fmt.Errorf("LOCALES must name at least one locale"))
	}
	found := false
	for _, l := range locales {
		if l == c.DefaultLocale {
			found = true
			break
		}
	}
	if !found {
		errs = append(errs, fmt.Errorf("DEFAULT_LOCALE %q must be one of LOCALES %q", c.DefaultLocale, c.Locales))
	}

	// Protected area
	if !strings.HasPrefix(c.ProtectedPrefix, "/") {
		errs = append(errs, fmt.Errorf("PROTECTED_PREFIX must start with / (got %q)", c.ProtectedPrefix))
	}
	if !strings.HasPrefix(c.LoginPath, c.ProtectedPrefix) {
		errs = append(errs, fmt.Errorf("LOGIN_PATH %q must live under PROTECTED_PREFIX %q", c.LoginPath, c.ProtectedPrefix))
	}

	// Auth backend (session validation is skipped entirely when unset)
	if c.AuthBaseURL != "" {
		if u, err := url.Parse(c.AuthBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("AUTH_BASE_URL must be a URL (got %q)", c.AuthBaseURL))
		}
		if c.AuthAPIKey == "" {
			errs = append(errs, fmt.Errorf("AUTH_API_KEY required when AUTH_BASE_URL is set"))
		}
	}

	// Upstream
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_URL must be a URL (got %q)", c.UpstreamURL))
	}

	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Matcher config sources are mutually exclusive
	if c.MatcherConfigPath != "" && c.MatcherSSMParam != "" {
		errs = append(errs, fmt.Errorf("MATCHER_CONFIG and MATCHER_SSM_PARAM are mutually exclusive"))
	}

	// Rate limiting
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_RPS must be > 0 (got %.2f)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
