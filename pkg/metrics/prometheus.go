// Package metrics provides Prometheus metrics for the sensorlink analysis service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the sensorlink service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Analysis metrics
	analyses            *prometheus.CounterVec
	analysisLatency     *prometheus.HistogramVec
	poolSize            prometheus.Histogram
	truncations         *prometheus.CounterVec
	intervalAdjustments prometheus.Counter
	eventsDetected      prometheus.Counter
	correlationCells    *prometheus.CounterVec

	// Store metrics
	storeQueryLatency *prometheus.HistogramVec

	// Job queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Job metrics
	jobs          *prometheus.CounterVec
	jobLatency    *prometheus.HistogramVec
	jobsPublished *prometheus.CounterVec

	// Worker metrics
	workerCount       prometheus.Gauge
	workerActiveCount prometheus.Gauge
	workerIdleCount   prometheus.Gauge
	workerErrors      prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var (
	globalMu      sync.RWMutex
	globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

	// Custom registry to avoid default Go metrics.
	customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry
)

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "sensorlink",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// SetGlobal replaces the manager used by the package-level recorders and
// returns the one it replaced. A nil m leaves the current manager in place.
func SetGlobal(m *Manager) *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	prev := globalManager
	if m != nil {
		globalManager = m
	}
	return prev
}

func global() *Manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalManager == nil || !globalManager.enabled {
		return nil
	}
	return globalManager
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	// Analysis metrics
	m.analyses = auto.NewCounterVec(
		m.counterOpts("analyses_total", "Total number of analyses by kind and outcome"),
		[]string{"kind", "status"},
	)
	m.analysisLatency = auto.NewHistogramVec(
		m.histogramOpts("analysis_latency_milliseconds", "End-to-end analysis latency in milliseconds", m.histogramBuckets),
		[]string{"kind"},
	)
	m.poolSize = auto.NewHistogram(
		m.histogramOpts("candidate_pool_size", "Number of candidates evaluated per ranking request",
			[]float64{1, 5, 10, 25, 50, 100, 250, 500}),
	)
	m.truncations = auto.NewCounterVec(
		m.counterOpts("truncated_sensors_total", "Sensors dropped by capacity truncation"),
		[]string{"list"},
	)
	m.intervalAdjustments = auto.NewCounter(
		m.counterOpts("interval_adjustments_total", "Requests whose interval was widened to respect max_buckets"),
	)
	m.eventsDetected = auto.NewCounter(
		m.counterOpts("events_detected_total", "Total number of step-change events detected"),
	)
	m.correlationCells = auto.NewCounterVec(
		m.counterOpts("correlation_cells_total", "Correlation matrix cells by status"),
		[]string{"status"},
	)

	m.storeQueryLatency = auto.NewHistogramVec(
		m.histogramOpts("store_query_latency_milliseconds", "Point store bucketed read latency in milliseconds", m.histogramBuckets),
		[]string{"driver"},
	)

	// Job queue metrics
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the job queue (backlog indicator)"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum job queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Job queue utilization ratio (current size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Total number of jobs enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Total number of jobs dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Total number of rejected enqueues"))

	// Job metrics
	m.jobs = auto.NewCounterVec(
		m.counterOpts("jobs_total", "Finished jobs by kind and terminal status"),
		[]string{"kind", "status"},
	)
	m.jobLatency = auto.NewHistogramVec(
		m.histogramOpts("job_latency_milliseconds", "Job latency from submission to completion in milliseconds", m.histogramBuckets),
		[]string{"kind"},
	)
	m.jobsPublished = auto.NewCounterVec(
		m.counterOpts("job_results_published_total", "Job summaries handed to the result publisher"),
		[]string{"status"},
	)

	// Worker metrics
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured number of job workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Number of workers currently running a job"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("worker_idle_count", "Number of idle workers"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Total number of failed jobs observed by workers"))

	// HTTP metrics
	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	// Error metrics
	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)
	m.errorRateByType = auto.NewCounterVec(
		m.counterOpts("errors_by_type_total", "Total number of errors by type"),
		[]string{"error_type", "severity"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Total number of errors by endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)

	// System metrics
	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// Analysis metrics functions.

// RecordAnalysis counts a finished analysis and observes its latency.
func RecordAnalysis(kind, status string, latencyMs float64) {
	if m := global(); m != nil {
		m.analyses.WithLabelValues(kind, status).Inc()
		m.analysisLatency.WithLabelValues(kind).Observe(latencyMs)
	}
}

// RecordPoolSize observes the number of candidates evaluated by a ranking request.
func RecordPoolSize(size int) {
	if m := global(); m != nil {
		m.poolSize.Observe(float64(size))
	}
}

// RecordTruncated adds n sensors dropped from list ("candidates" or "results").
func RecordTruncated(list string, n int) {
	if m := global(); m != nil && n > 0 {
		m.truncations.WithLabelValues(list).Add(float64(n))
	}
}

// RecordIntervalAdjusted counts an interval auto-adjustment.
func RecordIntervalAdjusted() {
	if m := global(); m != nil {
		m.intervalAdjustments.Inc()
	}
}

// RecordEventsDetected adds n detected events.
func RecordEventsDetected(n int) {
	if m := global(); m != nil && n > 0 {
		m.eventsDetected.Add(float64(n))
	}
}

// RecordCorrelationCell counts one matrix cell by status.
func RecordCorrelationCell(status string) {
	if m := global(); m != nil {
		m.correlationCells.WithLabelValues(status).Inc()
	}
}

// RecordStoreQueryLatency records a point store read latency.
func RecordStoreQueryLatency(driver string, latencyMs float64) {
	if m := global(); m != nil {
		m.storeQueryLatency.WithLabelValues(driver).Observe(latencyMs)
	}
}

// Queue metrics functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if m := global(); m != nil {
		m.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if m := global(); m != nil {
		m.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if m := global(); m != nil {
		m.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if m := global(); m != nil {
		m.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if m := global(); m != nil {
		m.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if m := global(); m != nil {
		m.queueEnqueueErrors.Inc()
	}
}

// Job metrics functions.

// RecordJob counts a job reaching a terminal status and observes its latency.
func RecordJob(kind, status string, latencyMs float64) {
	if m := global(); m != nil {
		m.jobs.WithLabelValues(kind, status).Inc()
		m.jobLatency.WithLabelValues(kind).Observe(latencyMs)
	}
}

// RecordJobPublished counts a publish attempt ("ok" or "error").
func RecordJobPublished(status string) {
	if m := global(); m != nil {
		m.jobsPublished.WithLabelValues(status).Inc()
	}
}

// Worker metrics functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	if m := global(); m != nil {
		m.workerCount.Set(float64(count))
	}
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	if m := global(); m != nil {
		m.workerActiveCount.Set(float64(count))
	}
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	if m := global(); m != nil {
		m.workerIdleCount.Set(float64(count))
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if m := global(); m != nil {
		m.workerErrors.Inc()
	}
}

// HTTP metrics functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := global(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if m := global(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Error metrics functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if m := global(); m != nil {
		m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if m := global(); m != nil {
		m.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if m := global(); m != nil {
		m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// System metrics functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if m := global(); m != nil {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if m := global(); m != nil {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if m := global(); m != nil {
		m.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
