package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpadapter "pageaudit/internal/adapters/http"
	"pageaudit/internal/adapters/llm"
	"pageaudit/internal/adapters/memory"
	pg "pageaudit/internal/adapters/postgres"
	"pageaudit/internal/adapters/redislock"
	"pageaudit/internal/adapters/render"
	"pageaudit/internal/adapters/snapshots"
	"pageaudit/internal/checks"
	"pageaudit/internal/config"
	"pageaudit/internal/metrics"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/analysis"
	auditsvc "pageaudit/internal/services/audits"
	"pageaudit/internal/services/fallback"
	"pageaudit/internal/services/orchestrator"
	"pageaudit/internal/tracing"
	"pageaudit/internal/workers/auditrunner"
)

type stores struct {
	audits  ports.AuditRepository
	content ports.ContentStore
	jobs    ports.JobRepository
	close   func()
}

func main() {
	cfg, cfgErr := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if cfgErr != nil && !errors.Is(cfgErr, config.ErrNoDatabaseURL) {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	if cfg.Development() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "pageaudit", tracing.Config{
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
		Environment: cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return err
	}
	settingsStore := config.NewStore(settings, cfg.SettingsFile)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	snaps, err := openSnapshots(ctx, cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	engine := fallback.New(fallback.WithLogger(logger), fallback.WithMetrics(m))
	analyzer, err := analysis.New(llm.NewRegistry(cfg.Providers), engine, analysis.WithLogger(logger))
	if err != nil {
		return err
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithSite(checks.Site{Host: cfg.SiteHost}),
	}
	srvOpts := []httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithMetricsHandler(promhttp.Handler()),
	}
	if snaps != nil {
		orchOpts = append(orchOpts, orchestrator.WithSnapshots(snaps))
		srvOpts = append(srvOpts, httpadapter.WithSnapshots(snaps))
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Audits:   st.audits,
		Content:  st.content,
		Renderer: render.New(),
		Analyzer: analyzer,
		Settings: settingsStore,
		Locker:   locker,
	}, orchOpts...)
	if err != nil {
		return err
	}
	audits := auditsvc.New(st.audits, st.content, st.jobs, settingsStore, auditsvc.WithLogger(logger))

	runnerOpts := []auditrunner.Option{auditrunner.WithLogger(logger), auditrunner.WithMetrics(m)}
	srvOpts = append(srvOpts, httpadapter.WithRunnerOptions(runnerOpts...))
	srv := httpadapter.New(audits, settingsStore, st.jobs, orch, srvOpts...)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	// Optional background job workers
	workersDone := auditrunner.Run(ctx, st.jobs, orch, cfg.AuditWorkers, cfg.PollInterval, runnerOpts...)
	if cfg.AuditWorkers > 0 {
		logger.Info("audit workers started", "workers", cfg.AuditWorkers, "poll_interval", cfg.PollInterval)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	logger.Info("listening", "addr", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	cancel()
	inlineDone := make(chan struct{})
	go func() {
		srv.Wait()
		close(inlineDone)
	}()
	for _, ch := range []<-chan struct{}{workersDone, inlineDone} {
		select {
		case <-ch:
		case <-shutdownCtx.Done():
			logger.Warn("audits did not finish in time")
			return nil
		}
	}
	return nil
}

// openStores picks postgres when DATABASE_URL is set and in-memory stores
// otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, audits are kept in memory")
		return stores{
			audits:  memory.NewAuditStore(),
			content: memory.NewContentStore(),
			jobs:    memory.NewJobQueue(),
			close:   func() {},
		}, nil
	}
	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(ctx, logger); err != nil {
		db.Close()
		return stores{}, err
	}
	return stores{audits: db, content: db.Content(), jobs: db, close: db.Close}, nil
}

// openLocker uses redis when REDIS_URL is set, so workers in several
// processes never run the same audit twice.
func openLocker(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return memory.NewLocker(), func() {}, nil
	}
	client, err := redislock.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return redislock.New(client, redislock.WithLogger(logger)), func() { _ = client.Close() }, nil
}

// openSnapshots returns nil when SNAPSHOT_ENDPOINT is unset, which disables
// page archiving.
func openSnapshots(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.SnapshotStore, error) {
	if cfg.SnapshotEndpoint == "" {
		return nil, nil
	}
	store, err := snapshots.New(ctx, snapshots.Config{
		Endpoint:  cfg.SnapshotEndpoint,
		AccessKey: cfg.SnapshotAccessKey,
		SecretKey: cfg.SnapshotSecretKey,
		Bucket:    cfg.SnapshotBucket,
		UseSSL:    cfg.SnapshotUseSSL,
	}, snapshots.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return store, nil
}
