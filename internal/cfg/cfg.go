package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npi"
)

// EnvPrefix is prepended to every flag name when reading overrides from the environment.
const EnvPrefix = "NPIPROXY_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort     int
	AdminPort    int
	TrustedHops  int
	DrainTimeout time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	RegistryURL          string
	RegistryTimeout      time.Duration
	RegistryMaxConns     int
	RegistryMaxIdleConns int

	RateLimitRequests    int
	RateLimitWindow      time.Duration
	RateLimitMaxVisitors int

	EnvFile       string
	SSMConfigPath string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of reverse proxies in front of us whose X-Forwarded-For entries are trusted (0 = use peer address)")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", 5*time.Second, "time to report not-ready before shutting down listeners")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.RegistryURL, "registry-url", npi.DefaultBaseURL, "NPPES registry API base url")
	fs.DurationVar(&c.RegistryTimeout, "registry-timeout", npi.DefaultTimeout, "overall timeout for one registry request")
	fs.IntVar(&c.RegistryMaxConns, "registry-max-conns", npi.DefaultMaxConns, "max concurrent connections to the registry")
	fs.IntVar(&c.RegistryMaxIdleConns, "registry-max-idle-conns", npi.DefaultMaxIdleConns, "max idle keep-alive connections to the registry")

	fs.IntVar(&c.RateLimitRequests, "ratelimit-requests", 10, "lookups allowed per client per ratelimit-window")
	fs.DurationVar(&c.RateLimitWindow, "ratelimit-window", time.Minute, "rate limit window")
	fs.IntVar(&c.RateLimitMaxVisitors, "ratelimit-max-visitors", 100000, "max tracked clients in the rate limiter (0 = unbounded)")

	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file read for NV_ORIGIN/ALLOWED_HOSTS when present")
	fs.StringVar(&c.SSMConfigPath, "ssm-config-path", "", "SSM parameter path overriding nv-origin/allowed-hosts (empty = disabled)")
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
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
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
	if c.TrustedHops < 0 || c.TrustedHops > 16 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..16 (got %d)", c.TrustedHops))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_TIMEOUT must not be negative (got %s)", c.DrainTimeout))
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

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope
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

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Registry client
	if u, err := url.Parse(c.RegistryURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("REGISTRY_URL must be an http(s) URL (got %q)", c.RegistryURL))
	}
	if c.RegistryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REGISTRY_TIMEOUT must be positive (got %s)", c.RegistryTimeout))
	}
	if c.RegistryMaxConns < 1 {
		errs = append(errs, fmt.Errorf("REGISTRY_MAX_CONNS must be >= 1 (got %d)", c.RegistryMaxConns))
	}
	if c.RegistryMaxIdleConns < 1 || c.RegistryMaxIdleConns > c.RegistryMaxConns {
		errs = append(errs, fmt.Errorf("REGISTRY_MAX_IDLE_CONNS must be 1..REGISTRY_MAX_CONNS (got %d)", c.RegistryMaxIdleConns))
	}

	// Rate limiting
	if c.RateLimitRequests < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_REQUESTS must be >= 1 (got %d)", c.RateLimitRequests))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_WINDOW must be positive (got %s)", c.RateLimitWindow))
	}
	if c.RateLimitMaxVisitors < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_VISITORS must not be negative (got %d)", c.RateLimitMaxVisitors))
	}

	if c.SSMConfigPath != "" && !strings.HasPrefix(c.SSMConfigPath, "/") {
		errs = append(errs, fmt.Errorf("SSM_CONFIG_PATH must start with / (got %q)", c.SSMConfigPath))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
