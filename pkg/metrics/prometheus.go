// Package metrics provides Prometheus metrics for the tutorlog transcript service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Transcript lifecycle
	transcriptsCreated prometheus.Counter
	transcriptsDeleted prometheus.Counter
	messagesAppended   *prometheus.CounterVec
	messagesUpdated    prometheus.Counter
	appendRejected     *prometheus.CounterVec
	fanoutMirrored     *prometheus.CounterVec
	fanoutSkipped      prometheus.Counter
	finalizations      *prometheus.CounterVec
	streamReads        prometheus.Counter
	requestsDuplicate  prometheus.Counter

	// Document store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueUtilization        prometheus.Gauge
	queueEnqueueRate        prometheus.Counter
	queueEnqueueErrors      prometheus.Counter
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	errorRateByComponent *prometheus.CounterVec

	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tutorlog",
		subsystem:        "transcript",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		refreshInterval:  defaultRefreshInterval,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval is how often gauge updaters should sample.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.transcriptsCreated = m.counter("transcripts_created_total", "Total number of transcripts created")
	m.transcriptsDeleted = m.counter("transcripts_deleted_total", "Total number of transcripts deleted with their streams")
	m.messagesAppended = m.counterVec("messages_appended_total", "Messages durably appended, by role", "role")
	m.messagesUpdated = m.counter("messages_updated_total", "In-place message patches (enrichment)")
	m.appendRejected = m.counterVec("append_rejected_total", "Appends rejected before any write, by reason", "reason")
	m.fanoutMirrored = m.counterVec("fanout_mirrored_total", "Messages mirrored into a per-role stream", "stream")
	m.fanoutSkipped = m.counter("fanout_skipped_total", "Appends where the caller opted out of mirroring")
	m.finalizations = m.counterVec("finalizations_total", "Finalize calls by resulting status and sentinel outcome", "status", "outcome")
	m.streamReads = m.counter("stream_reconstructions_total", "Transcripts rebuilt from the fan-out streams")
	m.requestsDuplicate = m.counter("requests_duplicate_total", "Append requests dropped by idempotency key")

	m.storeLatency = m.histogramVec("store_operation_latency_milliseconds", "Document store round trip latency", "backend", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Document store errors", "backend", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Jobs waiting across all writer lanes")
	m.queueCapacity = m.gauge("queue_capacity", "Total writer lane capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Jobs rejected by backpressure or shutdown")
	m.workerCount = m.gauge("worker_count", "Writer workers running")
	m.workerProcessingLatency = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "worker_processing_latency_milliseconds",
		Help: "Job execution latency", Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	})
	m.workerErrors = m.counter("worker_errors_total", "Jobs that returned an error")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordTranscriptCreated increments the created transcripts counter.
func RecordTranscriptCreated() { globalManager.transcriptsCreated.Inc() }

// RecordTranscriptDeleted increments the deleted transcripts counter.
func RecordTranscriptDeleted() { globalManager.transcriptsDeleted.Inc() }

// RecordMessageAppended counts a durable append for role.
func RecordMessageAppended(role string) { globalManager.messagesAppended.WithLabelValues(role).Inc() }

// RecordMessageUpdated counts an in-place message patch.
func RecordMessageUpdated() { globalManager.messagesUpdated.Inc() }

// RecordAppendRejected counts an append refused before writing.
func RecordAppendRejected(reason string) { globalManager.appendRejected.WithLabelValues(reason).Inc() }

// RecordFanoutMirrored counts a stream mirror write.
func RecordFanoutMirrored(stream string) { globalManager.fanoutMirrored.WithLabelValues(stream).Inc() }

// RecordFanoutSkipped counts an opted-out mirror.
func RecordFanoutSkipped() { globalManager.fanoutSkipped.Inc() }

// RecordFinalization counts a finalize call. outcome is "created" or "replayed".
func RecordFinalization(status, outcome string) {
	globalManager.finalizations.WithLabelValues(status, outcome).Inc()
}

// RecordStreamReconstruction counts a repair read.
func RecordStreamReconstruction() { globalManager.streamReads.Inc() }

// RecordRequestDuplicate counts a request dropped by idempotency key.
func RecordRequestDuplicate() { globalManager.requestsDuplicate.Inc() }

// RecordStoreOperation records latency for one store call and counts failures.
func RecordStoreOperation(backend, op string, latencyMs float64, failed bool) {
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(latencyMs)
	if failed {
		globalManager.storeErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records job latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RefreshInterval returns the global manager's gauge sampling interval.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
