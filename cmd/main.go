package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/sensorlink/internal/adapters/catalog"
	"github.com/okian/sensorlink/internal/adapters/http/api"
	"github.com/okian/sensorlink/internal/adapters/http/swagger"
	"github.com/okian/sensorlink/internal/adapters/mq/publisher"
	"github.com/okian/sensorlink/internal/adapters/repository"
	service "github.com/okian/sensorlink/internal/app"
	"github.com/okian/sensorlink/internal/config"
	"github.com/okian/sensorlink/pkg/logger"
	"github.com/okian/sensorlink/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	writeTimeoutSlack         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// reloader is implemented by file-backed catalogs.
type reloader interface {
	Reload(ctx context.Context) error
	Path() string
}

// application holds everything main wires together.
type application struct {
	cfg     *config.Config
	store   repository.Store
	catalog service.Catalog
	svc     *service.Service
	handler http.Handler
}

func main() {
	// Our registry carries its own system metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			_, _ = os.Stderr.WriteString("failed to sync logs: " + err.Error() + "\n")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	_ = logger.Init(logger.WithFormat(cfg.LogFormat))
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "sensorlink exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	defer configureMetrics(cfg)()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx, log)

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer a.svc.Stop()

	go startSystemMetricsUpdater(ctx)
	if r, ok := a.catalog.(reloader); ok {
		go watchReload(ctx, r, log)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.RequestTimeout() + writeTimeoutSlack,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// build opens the store and catalog, constructs the service and mounts the routes.
func build(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var cat service.Catalog = catalog.NewStatic()
	if cfg.CatalogPath != "" {
		yc, err := catalog.Open(ctx, cfg.CatalogPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		cat = yc
	}

	svc := service.New(store, cat,
		service.WithLogger(log),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.JobQueueSize),
		service.WithJobRetention(cfg.JobRetention),
		service.WithAnalysisParallelism(cfg.AnalysisParallelism),
		service.WithMaxDependencyDepth(cfg.MaxDependencyDepth),
		service.WithDefaultInterval(cfg.DefaultIntervalSeconds),
		service.WithMaxBuckets(cfg.MaxBuckets),
		service.WithIdempotencyCacheSize(cfg.IdempotencyCacheSize),
		service.WithJobTimeout(cfg.RequestTimeout()),
		service.WithPublisher(publisher.New(cfg.Brokers(), cfg.KafkaTopic)),
	)

	return &application{
		cfg:     cfg,
		store:   store,
		catalog: cat,
		svc:     svc,
		handler: newHandler(ctx, svc, cfg, log),
	}, nil
}

func (a *application) close(ctx context.Context, log logger.Logger) {
	if err := a.store.Close(); err != nil {
		log.Warn(ctx, "store close", logger.Error(err))
	}
}

// newHandler mounts the API and docs on a router wrapped in access logging and panic recovery.
func newHandler(ctx context.Context, svc *service.Service, cfg *config.Config, log logger.Logger) http.Handler {
	r := mux.NewRouter()
	swagger.Register(ctx, r)
	api.NewServer(svc, svc, api.WithRequestTimeout(cfg.RequestTimeout())).Register(ctx, r)

	var h http.Handler = r
	h = handlers.LoggingHandler(os.Stdout, h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{log: log.Named("http")}))(h)
	return h
}

// recoveryLogger adapts the structured logger to gorilla's recovery hook.
type recoveryLogger struct {
	log logger.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error(context.Background(), "handler panic", logger.String("panic", fmt.Sprint(v...)))
}

// watchReload re-reads the YAML catalog on SIGHUP.
func watchReload(ctx context.Context, r reloader, log logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := r.Reload(ctx); err != nil {
				log.Error(ctx, "catalog reload failed", logger.String("path", r.Path()), logger.Error(err))
			}
		}
	}
}

// configureMetrics installs a disabled metrics manager when cfg turns metrics
// off. The returned func restores the previous manager.
func configureMetrics(cfg *config.Config) func() {
	if cfg.MetricsEnabled {
		return func() {}
	}
	prev := metrics.SetGlobal(metrics.NewManager(
		metrics.WithMetricsEnabled(false),
		metrics.WithPrometheusRegistry(prometheus.NewRegistry()),
	))
	return func() { metrics.SetGlobal(prev) }
}

// startSystemMetricsUpdater refreshes process gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
