// OpsFocus serves the operations dashboard API: focus-filtered signals, selection and AI triage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	vc "github.com/linnemanlabs/opsfocus/internal/cfg"
	"github.com/linnemanlabs/opsfocus/internal/dashboard"
	"github.com/linnemanlabs/opsfocus/internal/dashboardapi"
	"github.com/linnemanlabs/opsfocus/internal/digest"
	"github.com/linnemanlabs/opsfocus/internal/notify/slack"
	"github.com/linnemanlabs/opsfocus/internal/postgres"
	"github.com/linnemanlabs/opsfocus/internal/signal/memstore"
	"github.com/linnemanlabs/opsfocus/internal/triage"
)

const appName = "opsfocus"
const component = "server"

// settings groups the flag-backed config of every package main wires.
type settings struct {
	app    vc.Config
	http   httpserver.Config
	httpmw httpmw.Config
	log    log.Config
	ops    opshttp.Config
	prof   prof.Config
	trace  otelx.Config
}

func (s *settings) register(fs *flag.FlagSet) {
	s.app.RegisterFlags(fs)
	s.http.RegisterFlags(fs)
	s.httpmw.RegisterFlags(fs)
	s.log.RegisterFlags(fs)
	s.ops.RegisterFlags(fs)
	s.prof.RegisterFlags(fs)
	s.trace.RegisterFlags(fs)
}

func (s *settings) validate() error {
	// only main sees both listeners
	var portErr error
	if s.app.APIPort == s.ops.Port {
		portErr = fmt.Errorf("http and admin ports must differ (both %d)", s.app.APIPort)
	}
	if err := errors.Join(
		s.app.Validate(),
		s.http.Validate(),
		s.httpmw.Validate(),
		s.log.Validate(),
		s.ops.Validate(),
		s.prof.Validate(),
		s.trace.Validate(),
		portErr,
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var s settings
	s.register(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// flags win over OPSFOCUS_* env vars
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}
	cfg.FillFromEnv(flag.CommandLine, "OPSFOCUS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := s.validate(); err != nil {
		return err
	}
	appCfg := &s.app

	lg, err := log.New(s.log.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", s.ops.Port,
		"enable_pprof", s.ops.EnablePprof,
		"enable_pyroscope", s.prof.EnablePyroscope,
		"enable_tracing", s.trace.EnableTracing,
		"otlp_endpoint", s.trace.OTLPEndpoint,
		"trusted_proxy_hops", s.httpmw.TrustedProxyHops,
		"seed_file", appCfg.SeedFile,
		"import_from_database", appCfg.DatabaseURL != "",
		"slack_enabled", appCfg.SlackWebhookURL != "",
		"digest_schedule", appCfg.DigestSchedule,
	)

	// profiling first so the whole lifetime is covered
	profOpts := s.prof.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", s.prof.PyroServer)
	}

	traceOpts := s.trace.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && s.prof.EnablePyroscope)

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsfocus_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)
	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
		},
	))

	// Operator changes live in memory only; the seed source is read once.
	seedSignals, seedSource, err := loadSignals(ctx, appCfg, time.Now())
	if err != nil {
		return fmt.Errorf("load signals: %w", err)
	}
	signalStore, err := memstore.New(seedSignals)
	if err != nil {
		return fmt.Errorf("signal store: %w", err)
	}
	L.Info(ctx, "signal store loaded", "source", seedSource, "signals", len(seedSignals))

	triageMetrics := triage.NewMetrics(m.Registry())
	classifier, classifierPath := newClassifier(appCfg, L, triageMetrics.Hooks())
	if classifierPath == triage.OriginLive {
		L.Info(ctx, "initialized triage classifier", "path", classifierPath, "provider", "claude",
			"model", appCfg.ClaudeModel, "timeout_seconds", appCfg.TriageTimeoutSeconds)
	} else {
		L.Info(ctx, "initialized triage classifier", "path", classifierPath, "latency_ms", appCfg.MockLatencyMillis)
	}

	dashOpts := []dashboard.Option{dashboard.WithHooks(dashboard.NewMetrics(m.Registry()).Hooks())}
	var notifier *slack.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		dashOpts = append(dashOpts, dashboard.WithEscalator(notifier))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	dash := dashboard.New(signalStore, classifier, L, dashOpts...)

	var digestSched *digest.Scheduler
	if appCfg.DigestEnabled() {
		// config validation guarantees a webhook when a schedule is set
		digestSched, err = digest.New(appCfg.DigestSchedule, signalStore, notifier, L)
		if err != nil {
			dash.Close()
			return fmt.Errorf("digest: %w", err)
		}
		if err := digestSched.Start(ctx); err != nil {
			dash.Close()
			return fmt.Errorf("digest: %w", err)
		}
	}

	// readiness fails while draining so the load balancer stops routing here
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := s.ops.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// ops listener is for internal monitoring only
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	r := newRouter(dashboardapi.New(L, dash), health.HealthzHandler(liveness), health.ReadyzHandler(readiness))
	h := wrapHandler(r, L, func(next http.Handler) http.Handler { return m.Middleware(next) }, s.httpmw.TrustedProxyHops)

	apiOpts, err := s.http.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		_ = opsHTTPStop(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		// not fatal, systemd will time us out if it was expecting the notify
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(bg, "shutdown gate closed")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	waitDrain(bg, L, time.Duration(appCfg.DrainSeconds)*time.Second, forceCh)
	signal.Stop(forceCh)

	stops := []stopFn{
		{"api http server", apiHTTPStop},
		{"dashboard", func(context.Context) error { dash.Close(); return nil }},
	}
	if digestSched != nil {
		stops = append(stops, stopFn{"digest", func(context.Context) error { digestSched.Stop(); return nil }})
	}
	stops = append(stops, stopFn{"ops http server", opsHTTPStop})
	if shutdownOtelx != nil {
		stops = append(stops, stopFn{"otel", shutdownOtelx})
	}
	shutdownAll(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, stops)

	if stopProf != nil {
		stopProf()
	}
	L.Info(bg, "shutdown complete")
	return nil
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd; no context-aware dial for unixgram
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
