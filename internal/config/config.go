// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - Load layers a YAML file and SENSORLINK_* environment variables on top.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"runtime"
	"strings"
	"time"
)

// Supported point store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of async job workers.
	WorkerCount int `koanf:"worker_count"`

	// JobQueueSize bounds the in-memory job queue.
	JobQueueSize int `koanf:"job_queue_size"`

	// JobRetention caps how many finished jobs are kept for polling.
	JobRetention int `koanf:"job_retention"`

	// AnalysisParallelism bounds per-request fan-out across sensors.
	AnalysisParallelism int `koanf:"analysis_parallelism"`

	// StoreDriver picks the point store: memory, sqlite3 or postgres.
	StoreDriver string `koanf:"store_driver"`

	// StoreDSN is the data source name for SQL drivers.
	StoreDSN string `koanf:"store_dsn"`

	// CatalogPath points at the YAML sensor catalog. Empty means an empty catalog.
	CatalogPath string `koanf:"catalog_path"`

	// MaxDependencyDepth bounds derived-sensor expansion.
	MaxDependencyDepth int `koanf:"max_dependency_depth"`

	// DefaultIntervalSeconds applies when a request omits interval_seconds.
	DefaultIntervalSeconds int64 `koanf:"default_interval_seconds"`

	// MaxBuckets is the server-side ceiling for buckets per series before the interval widens.
	MaxBuckets int `koanf:"max_buckets"`

	// RequestTimeoutMS bounds synchronous analyses and individual jobs.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// KafkaBrokers is a comma separated broker list; empty disables publishing.
	KafkaBrokers string `koanf:"kafka_brokers"`

	// KafkaTopic receives finished job summaries.
	KafkaTopic string `koanf:"kafka_topic"`

	// IdempotencyCacheSize bounds the Idempotency-Key index.
	IdempotencyCacheSize int `koanf:"idempotency_cache_size"`

	// MetricsEnabled turns the Prometheus recorders off when false; /metrics keeps serving.
	MetricsEnabled bool `koanf:"metrics_enabled"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":9080",
		WorkerCount:            runtime.NumCPU(),
		JobQueueSize:           1_000,
		JobRetention:           1_000,
		AnalysisParallelism:    runtime.NumCPU() * 2,
		StoreDriver:            DriverMemory,
		MaxDependencyDepth:     8,
		DefaultIntervalSeconds: 60,
		MaxBuckets:             5_000,
		RequestTimeoutMS:       30_000,
		KafkaTopic:             "sensorlink.jobs",
		IdempotencyCacheSize:   10_000,
		MetricsEnabled:         true,
	}
}

// Brokers returns the parsed Kafka broker list.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// RequestTimeout returns RequestTimeoutMS as a duration; zero disables the bound.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
