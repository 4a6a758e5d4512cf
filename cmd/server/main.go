// Triagedesk serves the fraud and loan review dashboards and the decision
// authority that confirms reviewer triage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

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

	"github.com/linnemanlabs/triagedesk/internal/authmw"
	"github.com/linnemanlabs/triagedesk/internal/authority"
	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/batch/csvsource"
	"github.com/linnemanlabs/triagedesk/internal/batch/graphsource"
	tc "github.com/linnemanlabs/triagedesk/internal/cfg"
	"github.com/linnemanlabs/triagedesk/internal/dashboard"
	"github.com/linnemanlabs/triagedesk/internal/dashboardapi"
	"github.com/linnemanlabs/triagedesk/internal/decision"
	"github.com/linnemanlabs/triagedesk/internal/decision/memstore"
	"github.com/linnemanlabs/triagedesk/internal/decision/pgstore"
	"github.com/linnemanlabs/triagedesk/internal/decisionapi"
	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
	"github.com/linnemanlabs/triagedesk/internal/llm/claude"
	"github.com/linnemanlabs/triagedesk/internal/notify/slack"
	"github.com/linnemanlabs/triagedesk/internal/postgres"
	"github.com/linnemanlabs/triagedesk/internal/realtime"
	"github.com/linnemanlabs/triagedesk/internal/report"
)

const appName = "triagedesk"
const component = "server"

// decisionBodyLimit caps authority request bodies. Batch uploads carry
// their own limit.
const decisionBodyLimit = 64 << 10

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

	// each package registers its own flags and options struct
	var (
		appCfg    tc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// .env values land in the process environment without overriding real
	// variables, then flow through the same TRIAGEDESK_ env filling
	if err := loadEnvFile(appCfg.EnvFile); err != nil {
		return err
	}
	cfg.FillFromEnv(flag.CommandLine, "TRIAGEDESK_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
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
		"admin_port", opsCfg.Port,
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"decision_store", storeKind(appCfg.DatabaseURL),
		"authority", authorityKind(appCfg.AuthorityURL),
		"graph_preload", appCfg.GraphURI != "",
		"narratives", appCfg.ClaudeAPIKey != "",
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}
	defer stopProf()

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)
	reg := m.Registry()

	verifier := identity.NewVerifier([]byte(appCfg.JWTSecret))

	// decision authority, always served so other deployments can point at us
	store, closeStore, err := openStore(ctx, &appCfg, reg, L)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier decision.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	decisionSvc := decision.NewService(store, vocabularies(), L, decision.NewMetrics(reg), notifier)

	confirmer, err := newAuthority(&appCfg, decisionSvc, verifier)
	if err != nil {
		return err
	}

	// hub outlives the signal context so open streams close during shutdown,
	// not on the first signal
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()
	hub := realtime.NewHub(L, realtime.NewMetrics(reg))
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	surfaceMetrics := dashboard.NewMetrics(reg)
	surfaces := make([]*dashboard.Surface, 0, len(dashboard.Kinds))
	for _, kind := range dashboard.Kinds {
		sc := dashboard.DefaultConfig(kind)
		sc.Layout.Iterations = appCfg.LayoutIterations
		sc.Layout.Epsilon = appCfg.LayoutEpsilon
		sc.ConfirmTimeout = appCfg.ConfirmTimeout()
		surfaces = append(surfaces, dashboard.NewSurface(sc, confirmer, L,
			dashboard.WithMetrics(surfaceMetrics),
			dashboard.WithPublisher(hub),
		))
	}

	if appCfg.GraphURI != "" {
		if err := preloadGraph(ctx, &appCfg, surfaces, L); err != nil {
			// the dashboards still accept uploads
			L.Error(ctx, err, "graph preload failed", "graph_uri", appCfg.GraphURI)
		}
	}

	var summarizer report.Summarizer
	if appCfg.ClaudeAPIKey != "" {
		summarizer = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)
	}

	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json", "text/markdown"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(withQueryMethod)
	r.Use(httpmw.AccessLog())

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(verifier))

		r.Group(func(r chi.Router) {
			r.Use(httpmw.MaxBody(decisionBodyLimit))
			decisionapi.New(L, decisionSvc).RegisterRoutes(r)
		})

		dashboardapi.New(L, surfaces,
			dashboardapi.WithStream(hub),
			dashboardapi.WithReports(report.New(summarizer, L)),
			dashboardapi.WithMaxUpload(appCfg.MaxUploadBytes),
		).RegisterRoutes(r)
	})

	// outermost wrapper sees the raw request first and the response last
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	shutdownGate.Set("draining")
	drain(bg, L, time.Duration(appCfg.DrainSeconds)*time.Second)

	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"confirmations", func(ctx context.Context) error { return waitSurfaces(ctx, surfaces) }},
		{"realtime hub", func(ctx context.Context) error {
			stopHub()
			select {
			case <-hubDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}
	shutdown(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, stopFns)

	L.Info(bg, "shutdown complete")
	return nil
}

// loadEnvFile reads a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func storeKind(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}
	return "postgres"
}

func authorityKind(authorityURL string) string {
	if authorityURL == "" {
		return "local"
	}
	return "remote"
}

// vocabularies maps surface names to the statuses the authority accepts.
func vocabularies() map[string]ledger.Vocabulary {
	out := make(map[string]ledger.Vocabulary, len(dashboard.Kinds))
	for _, k := range dashboard.Kinds {
		out[string(k)] = dashboard.DefaultConfig(k).Vocabulary
	}
	return out
}

// openStore returns the decision store and a close function. Without a
// database URL decisions live in memory.
func openStore(ctx context.Context, c *tc.Config, reg prometheus.Registerer, L log.Logger) (decision.Store, func(), error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory decision store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triagedesk_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	reg.MustRegister(dbQueryDuration)
	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
		Logger:    L,
		SlowQuery: c.SlowQuery(),
		MaxConns:  int32(c.DBMaxConnections), //nolint:gosec // bounded by Validate
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	st, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres decision store")
	return st, pool.Close, nil
}

// newAuthority picks where surfaces send confirmations.
func newAuthority(c *tc.Config, svc *decision.Service, verifier *identity.Verifier) (ledger.Authority, error) {
	if c.AuthorityURL == "" {
		return decision.NewLocalAuthority(svc, verifier), nil
	}
	cl, err := authority.New(c.AuthorityURL, c.ConfirmTimeout())
	if err != nil {
		return nil, fmt.Errorf("authority client: %w", err)
	}
	return cl, nil
}

// preloadGraph ingests one batch from Neo4j into the configured surface.
func preloadGraph(ctx context.Context, c *tc.Config, surfaces []*dashboard.Surface, L log.Logger) error {
	kind, err := dashboard.ParseKind(c.GraphSurface)
	if err != nil {
		return err
	}
	var target *dashboard.Surface
	for _, s := range surfaces {
		if s.Kind() == kind {
			target = s
		}
	}
	if target == nil {
		return fmt.Errorf("surface %s is not served", kind)
	}

	client, err := graphsource.NewNeo4jClient(ctx, graphsource.Options{
		URI:      c.GraphURI,
		Database: c.GraphDatabase,
		Username: c.GraphUsername,
		Password: c.GraphPassword,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(context.WithoutCancel(ctx)) }()

	layout := csvsource.Fraud
	if kind == dashboard.Loan {
		layout = csvsource.Loan
	}
	src := graphsource.New(client, c.GraphBatch, batch.Options{
		Source:     "graph:" + strings.TrimSpace(c.GraphBatch),
		Required:   layout.Required,
		Defaults:   layout.Defaults,
		Dimensions: layout.Dimensions,
		Annotate:   layout.Annotate,
	})
	st, err := target.Ingest(ctx, src)
	if err != nil {
		return err
	}
	L.Info(ctx, "preloaded batch from graph", "surface", string(kind), "transactions", st.Total)
	return nil
}

// withQueryMethod stashes the HTTP method for DB query metrics.
func withQueryMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
	})
}

// drain waits for the load balancer to notice the closed gate. A second
// signal cuts it short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	L.Info(ctx, "sleeping for drain period", "drain_seconds", d.Seconds())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// shutdown runs each stop function in order with an equal slice of budget.
func shutdown(L log.Logger, budget time.Duration, fns []stopFn) {
	if len(fns) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(fns))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range fns {
		cctx, ccancel := context.WithTimeout(ctx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}

// waitSurfaces blocks until every outstanding confirmation settles.
func waitSurfaces(ctx context.Context, surfaces []*dashboard.Surface) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range surfaces {
			s.Wait()
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, net has no context dial for unixgram
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
