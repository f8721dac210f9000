// Package service orchestrates the relationship engine: ranking, correlation,
// preview and the async job wrapper the HTTP API exposes.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/sensorlink/internal/adapters/mq/publisher"
	"github.com/okian/sensorlink/internal/adapters/mq/queue"
	"github.com/okian/sensorlink/internal/adapters/mq/worker"
	"github.com/okian/sensorlink/internal/domain/dedupe"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
	"github.com/okian/sensorlink/pkg/logger"
	"github.com/okian/sensorlink/pkg/metrics"
)

const stopTimeout = 10 * time.Second

// PointStore serves bucketed reads of stored sensors.
type PointStore interface {
	ReadBucketed(ctx context.Context, sensorID string, start, end time.Time, intervalSec int64, mode model.Aggregation) (model.Series, error)
}

// Catalog resolves sensor metadata and derived formulas.
type Catalog interface {
	Sensor(ctx context.Context, id string) (model.Sensor, error)
	Sensors(ctx context.Context) ([]model.Sensor, error)
}

// Service implements the API dependencies for the relationship engine.
type Service struct {
	mu sync.RWMutex

	store     PointStore
	catalog   Catalog
	publisher publisher.Publisher
	idem      dedupe.Index
	jobQueue  queue.Queue
	pool      *worker.Pool

	jobsMu sync.Mutex
	jobs   map[string]*Job
	order  []string

	workerCount     int
	queueSize       int
	jobRetention    int
	parallelism     int
	maxDepth        int
	maxBuckets      int
	idemSize        int
	defaultInterval int64
	jobTimeout      time.Duration

	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of job workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the job queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithJobRetention sets how many finished jobs are kept for polling.
func WithJobRetention(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.jobRetention = n
		}
	}
}

// WithAnalysisParallelism bounds the per-request sensor fan-out.
func WithAnalysisParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithMaxDependencyDepth bounds derived-sensor expansion.
func WithMaxDependencyDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithDefaultInterval sets the bucket width used when a request omits one.
func WithDefaultInterval(sec int64) Option {
	return func(s *Service) {
		if sec > 0 {
			s.defaultInterval = sec
		}
	}
}

// WithMaxBuckets caps the number of buckets any series may span.
func WithMaxBuckets(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBuckets = n
		}
	}
}

// WithIdempotencyCacheSize bounds the Idempotency-Key index.
func WithIdempotencyCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.idemSize = n
		}
	}
}

// WithJobTimeout bounds a single async job.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithPublisher sets where finished job summaries go.
func WithPublisher(p publisher.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over a point store and a catalog.
func New(store PointStore, catalog Catalog, opts ...Option) *Service {
	s := &Service{
		store:           store,
		catalog:         catalog,
		publisher:       publisher.Noop{},
		jobs:            make(map[string]*Job),
		workerCount:     runtime.NumCPU(),
		queueSize:       1000,
		jobRetention:    1000,
		parallelism:     runtime.NumCPU() * 2,
		maxDepth:        resample.DefaultMaxDepth,
		maxBuckets:      5000,
		idemSize:        10000,
		defaultInterval: 60,
		jobTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.idem = dedupe.NewInMemoryIndex(dedupe.WithMaxSize(s.idemSize))
	return s
}

// Start launches the job queue and worker pool. Synchronous analyses do not
// need it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting sensorlink service...")
	s.jobQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.jobQueue, s)
	s.pool.Start(ctx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "sensorlink service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("parallelism", s.parallelism),
		logger.Int("maxDependencyDepth", s.maxDepth),
	)
	return nil
}

// Stop cancels outstanding jobs and drains the worker pool.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping sensorlink service...")

	s.cancelAll()
	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn(ctx, "publisher close", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "sensorlink service stopped")
}

// Sensors lists the catalog.
func (s *Service) Sensors(ctx context.Context) ([]model.Sensor, error) {
	return s.catalog.Sensors(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":             s.started,
		"workerCount":         s.workerCount,
		"queueSize":           s.queueSize,
		"analysisParallelism": s.parallelism,
		"maxDependencyDepth":  s.maxDepth,
		"idempotencyKeys":     s.idem.Size(),
	}

	byStatus := make(map[model.JobStatus]int)
	s.jobsMu.Lock()
	for _, j := range s.jobs {
		byStatus[j.Status]++
	}
	s.jobsMu.Unlock()
	stats["jobs"] = byStatus

	if counter, ok := s.store.(interface {
		Count(ctx context.Context) (int, error)
	}); ok {
		if n, err := counter.Count(ctx); err == nil {
			stats["storedPoints"] = n
		}
	}

	if s.started {
		stats["queueLength"] = s.jobQueue.Len(ctx)
		stats["busyWorkers"] = s.pool.Busy()
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	return stats
}

// graph snapshots the catalog into a dependency graph for one request.
func (s *Service) graph(ctx context.Context) (*resample.Graph, error) {
	sensors, err := s.catalog.Sensors(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return resample.NewGraph(sensors, s.maxDepth), nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
