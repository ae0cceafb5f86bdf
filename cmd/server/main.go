package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-npi/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-npi/internal/health"
	"github.com/keithlinneman/linnemanlabs-npi/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-npi/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
	"github.com/keithlinneman/linnemanlabs-npi/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npi"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npihttp"
	"github.com/keithlinneman/linnemanlabs-npi/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-npi/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-npi/internal/prof"
	"github.com/keithlinneman/linnemanlabs-npi/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-npi/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix NPIPROXY_ and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
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
		stackLvl = lvl
	}
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	// Host allowlist and CORS origin: env file, env, then optional SSM overlay
	sec, err := cfg.LoadSecurity(conf.EnvFile)
	if err != nil {
		L.Error(ctx, err, "failed to load security config", "env_file", conf.EnvFile)
		os.Exit(1)
	}
	if conf.SSMConfigPath != "" {
		ssmClient, err := cfg.NewSSMClient(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to create SSM client")
			os.Exit(1)
		}
		applied, err := cfg.ApplySSM(ctx, ssmClient, conf.SSMConfigPath, &sec)
		if err != nil {
			L.Error(ctx, err, "failed to read security config from SSM", "ssm_path", conf.SSMConfigPath)
			os.Exit(1)
		}
		L.Info(ctx, "applied security config from SSM", "ssm_path", conf.SSMConfigPath, "params", applied)
	}
	if err := sec.Validate(); err != nil {
		L.Error(ctx, err, "invalid security config")
		os.Exit(1)
	}

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
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"registry_url", conf.RegistryURL,
		"registry_timeout", conf.RegistryTimeout.String(),
		"registry_max_conns", conf.RegistryMaxConns,
		"registry_max_idle_conns", conf.RegistryMaxIdleConns,
		"ratelimit_requests", conf.RateLimitRequests,
		"ratelimit_window", conf.RateLimitWindow.String(),
		"nv_origin", sec.NVOrigin,
		"allowed_hosts", sec.AllowedHosts,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       vi.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		// prof.Start logged the cause, keep serving without profiles
		L.Warn(ctx, "continuing without pyroscope", "pyro_server", conf.PyroServer)
	}

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   vi.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// one client, one connection pool for the life of the process
	registry := npi.NewClient(npi.Options{
		BaseURL:      conf.RegistryURL,
		Timeout:      conf.RegistryTimeout,
		MaxConns:     conf.RegistryMaxConns,
		MaxIdleConns: conf.RegistryMaxIdleConns,
		UserAgent:    vi.AppName + "/" + vi.Version,
		Logger:       lg.With("component", "npi-client"),
		Observer:     m,
	})

	// the capacity hook fires once per fill, but a map hovering at the cap can refill often
	capacityLog := rate.Sometimes{Interval: time.Minute}
	limiter := ratelimit.New(ctx,
		ratelimit.WithWindow(conf.RateLimitRequests, conf.RateLimitWindow),
		ratelimit.WithMaxVisitors(conf.RateLimitMaxVisitors),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			capacityLog.Do(func() {
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
			})
		}),
	)
	m.TrackRateLimitVisitors(limiter.Len)

	api := npihttp.NewAPI(registry, L)

	var gate health.ShutdownGate
	started := health.NewFlag("starting")
	readiness := health.All(gate.Probe(), started)

	httpStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		TrustedHosts: sec.AllowedHosts,
		CORS:         httpmw.CORSOptions{Origin: sec.NVOrigin},
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}

	// admin listener serves metrics, health checks and pprof
	// requests from public addresses are rejected in middleware
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	started.Set(true)

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new lookups
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_timeout", conf.DrainTimeout.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainTimeout):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	registry.CloseIdleConnections()

	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}

	stopProf()

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
