package cfg

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if !c.EnablePprof {
		t.Error("EnablePprof: want true")
	}
	if c.EnablePyroscope {
		t.Error("EnablePyroscope: want false")
	}
	if c.EnableTracing {
		t.Error("EnableTracing: want false")
	}
	if c.StacktraceLevel != "error" {
		t.Errorf("StacktraceLevel: want %q, got %q", "error", c.StacktraceLevel)
	}
	if c.Locales != "en,it" {
		t.Errorf("Locales: want %q, got %q", "en,it", c.Locales)
	}
	if c.DefaultLocale != "en" {
		t.Errorf("DefaultLocale: want %q, got %q", "en", c.DefaultLocale)
	}
	if c.LocaleCookie != "preferred_locale" {
		t.Errorf("LocaleCookie: want %q, got %q", "preferred_locale", c.LocaleCookie)
	}
	if c.SessionCookiePrefix != "sb-" {
		t.Errorf("SessionCookiePrefix: want %q, got %q", "sb-", c.SessionCookiePrefix)
	}
	if c.ProtectedPrefix != "/cms" {
		t.Errorf("ProtectedPrefix: want %q, got %q", "/cms", c.ProtectedPrefix)
	}
	if c.LoginPath != "/cms/login" {
		t.Errorf("LoginPath: want %q, got %q", "/cms/login", c.LoginPath)
	}
	if c.UpstreamURL != "http://127.0.0.1:3000" {
		t.Errorf("UpstreamURL: want default origin, got %q", c.UpstreamURL)
	}
	if c.RateLimitRPS != 20 {
		t.Errorf("RateLimitRPS: want 20, got %f", c.RateLimitRPS)
	}
	if c.RateLimitBurst != 60 {
		t.Errorf("RateLimitBurst: want 60, got %d", c.RateLimitBurst)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-http-port=9090",
		"-admin-port=9100",
		"-enable-pprof=false",
		"-enable-pyroscope=true",
		"-enable-tracing=true",
		"-trace-sample=0.5",
		"-stacktrace-level=warn",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-otlp-endpoint=otel:4317",
		"-locales=en,it,de",
		"-default-locale=de",
		"-protected-prefix=/admin",
		"-login-path=/admin/signin",
		"-upstream-url=http://app:3000",
		"-matcher-ssm-param=/edge/matcher",
	})

	if c.LogJSON != false {
		t.Error("LogJSON: want false")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.TraceSample != 0.5 {
		t.Errorf("TraceSample: want 0.5, got %f", c.TraceSample)
	}
	if c.PyroServer != "https://pyro:4040" {
		t.Errorf("PyroServer: want %q, got %q", "https://pyro:4040", c.PyroServer)
	}
	if c.PyroTenantID != "test-tenant" {
		t.Errorf("PyroTenantID: want %q, got %q", "test-tenant", c.PyroTenantID)
	}
	if c.OTLPEndpoint != "otel:4317" {
		t.Errorf("OTLPEndpoint: want %q, got %q", "otel:4317", c.OTLPEndpoint)
	}
	if c.Locales != "en,it,de" {
		t.Errorf("Locales: want %q, got %q", "en,it,de", c.Locales)
	}
	if c.DefaultLocale != "de" {
		t.Errorf("DefaultLocale: want %q, got %q", "de", c.DefaultLocale)
	}
	if c.ProtectedPrefix != "/admin" {
		t.Errorf("ProtectedPrefix: want %q, got %q", "/admin", c.ProtectedPrefix)
	}
	if c.LoginPath != "/admin/signin" {
		t.Errorf("LoginPath: want %q, got %q", "/admin/signin", c.LoginPath)
	}
	if c.UpstreamURL != "http://app:3000" {
		t.Errorf("UpstreamURL: want %q, got %q", "http://app:3000", c.UpstreamURL)
	}
	if c.MatcherSSMParam != "/edge/matcher" {
		t.Errorf("MatcherSSMParam: want %q, got %q", "/edge/matcher", c.MatcherSSMParam)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"ADMIN_PORT", "9100")
	t.Setenv(pfx+"ENABLE_PPROF", "false")
	t.Setenv(pfx+"ENABLE_PYROSCOPE", "true")
	t.Setenv(pfx+"ENABLE_TRACING", "true")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"STACKTRACE_LEVEL", "warn")
	t.Setenv(pfx+"PYRO_SERVER", "https://pyro:4040")
	t.Setenv(pfx+"OTLP_ENDPOINT", "otel:4317")
	t.Setenv(pfx+"LOCALES", "en,fr")
	t.Setenv(pfx+"DEFAULT_LOCALE", "fr")
	t.Setenv(pfx+"AUTH_BASE_URL", "https://auth.example.com")
	t.Setenv(pfx+"AUTH_API_KEY", "anon-key")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogJSON != false {
		t.Error("LogJSON: want false from env")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort: want 8088, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
	if c.Locales != "en,fr" {
		t.Errorf("Locales: want %q, got %q", "en,fr", c.Locales)
	}
	if c.DefaultLocale != "fr" {
		t.Errorf("DefaultLocale: want %q, got %q", "fr", c.DefaultLocale)
	}
	if c.AuthBaseURL != "https://auth.example.com" {
		t.Errorf("AuthBaseURL: want from env, got %q", c.AuthBaseURL)
	}
	if c.AuthAPIKey != "anon-key" {
		t.Errorf("AuthAPIKey: want from env, got %q", c.AuthAPIKey)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-enable-pprof=true"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	// CLI wins
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.EnablePprof != true {
		t.Error("EnablePprof: want true (cli)")
	}

	// Should have logged override messages for all three
	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	// Should keep default, not crash
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080 (default), got %d", c.HTTPPort)
	}
	// Should have logged the error
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestLocaleList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"en,it", []string{"en", "it"}},
		{" en , it ,", []string{"en", "it"}},
		{"en", []string{"en"}},
		{"", []string{}},
	}
	for _, tc := range cases {
		c := App{Locales: tc.in}
		if got := c.LocaleList(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("LocaleList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-auth-base-url=https://auth.example.com",
		"-auth-api-key=anon-key",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-default-locale=xx",
		"-upstream-url=not-a-url",
		"-ratelimit-rps=0",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid HTTP_PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "DEFAULT_LOCALE")
	wantErrContains(t, err, "UPSTREAM_URL must be a URL")
	wantErrContains(t, err, "RATELIMIT_RPS")
}

func TestValidate_LoginPathOutsidePrefix(t *testing.T) {
	c := newTestConfig(t, []string{"-login-path=/signin"})
	wantErrContains(t, Validate(c), "LOGIN_PATH")
}

func TestValidate_AuthKeyRequiredWithURL(t *testing.T) {
	c := newTestConfig(t, []string{"-auth-base-url=https://auth.example.com"})
	wantErrContains(t, Validate(c), "AUTH_API_KEY")
}

func TestValidate_MatcherSourcesExclusive(t *testing.T) {
	c := newTestConfig(t, []string{
		"-matcher-config=/etc/edge/matcher.yaml",
		"-matcher-ssm-param=/edge/matcher",
	})
	wantErrContains(t, Validate(c), "mutually exclusive")
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
