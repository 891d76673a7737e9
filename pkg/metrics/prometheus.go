// Package metrics provides Prometheus metrics for the meshrsa pipeline.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus collector of the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Loading
	trialsRead    prometheus.Counter
	trialsMissing prometheus.Counter
	unitsLoaded   prometheus.Counter
	unitsSkipped  prometheus.Counter
	unitsFailed   *prometheus.CounterVec
	tensorBytes   prometheus.Counter

	// Fitting
	lagAdjusted       prometheus.Counter
	fits              prometheus.Counter
	fitsIllCond       prometheus.Counter
	timepointLatency  prometheus.Histogram
	filesWritten      *prometheus.CounterVec
	jobLatency        *prometheus.HistogramVec
	errorsByComponent *prometheus.CounterVec

	// Queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	workerActiveCount prometheus.Gauge

	// Status endpoint
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // private registry without Go runtime collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init swaps the global manager for one built from opts on a fresh private
// registry. It must run before the pipeline starts recording.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "meshrsa",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.trialsRead = m.counter("trials_read_total", "Raw trials read successfully")
	m.trialsMissing = m.counter("trials_missing_total", "Raw trials that failed to load and were substituted with NaN")
	m.unitsLoaded = m.counter("units_loaded_total", "Subject/hemisphere units downsampled and persisted")
	m.unitsSkipped = m.counter("units_skipped_total", "Subject/hemisphere units skipped because output already existed")
	m.unitsFailed = m.counterVec("units_failed_total", "Units aborted by a structural failure", "stage")
	m.tensorBytes = m.counter("tensor_bytes_total", "Uncompressed bytes of source tensors persisted")

	m.lagAdjusted = m.counter("lag_adjusted_total", "Requested lags rounded down to an achievable step")
	m.fits = m.counter("fits_total", "Vertex/timepoint GLM fits performed")
	m.fitsIllCond = m.counter("fits_ill_conditioned_total", "GLM fits flagged as ill-conditioned or degenerate")
	m.timepointLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "fit_timepoint_latency_milliseconds",
		Help:        "Time to fit every vertex at one timepoint",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
	m.filesWritten = m.counterVec("files_written_total", "Result and tensor files written", "kind")
	m.jobLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "job_latency_milliseconds",
		Help:        "Worker job latency by job kind",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"kind"})
	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.queueSize = m.gauge("queue_size", "Jobs waiting in the work queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the work queue")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a job")

	m.httpRequests = m.counterVec("http_requests_total", "Status endpoint requests", "endpoint", "method", "status_code")
	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "Status endpoint request duration",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordTrialRead counts a successfully read trial.
func RecordTrialRead() { globalManager.trialsRead.Inc() }

// RecordTrialMissing counts a trial substituted with the missing sentinel.
func RecordTrialMissing() { globalManager.trialsMissing.Inc() }

// RecordUnitLoaded counts a persisted subject/hemisphere unit.
func RecordUnitLoaded() { globalManager.unitsLoaded.Inc() }

// RecordUnitSkipped counts a unit skipped by the overwrite policy.
func RecordUnitSkipped() { globalManager.unitsSkipped.Inc() }

// RecordUnitFailed counts an aborted unit at the given stage (load, fit).
func RecordUnitFailed(stage string) { globalManager.unitsFailed.WithLabelValues(stage).Inc() }

// RecordTensorBytes adds persisted tensor bytes.
func RecordTensorBytes(n uint64) { globalManager.tensorBytes.Add(float64(n)) }

// RecordLagAdjusted counts a lag rounded to an achievable step.
func RecordLagAdjusted() { globalManager.lagAdjusted.Inc() }

// RecordFits adds n performed fits.
func RecordFits(n int) { globalManager.fits.Add(float64(n)) }

// RecordIllConditioned adds n ill-conditioned fits.
func RecordIllConditioned(n int) { globalManager.fitsIllCond.Add(float64(n)) }

// RecordTimepointLatency records the latency of one timepoint job.
func RecordTimepointLatency(latencyMs float64) { globalManager.timepointLatency.Observe(latencyMs) }

// RecordFileWritten counts a written file of the given kind (mesh, stc).
func RecordFileWritten(kind string) { globalManager.filesWritten.WithLabelValues(kind).Inc() }

// RecordJobLatency records a worker job latency.
func RecordJobLatency(kind string, latencyMs float64) {
	globalManager.jobLatency.WithLabelValues(kind).Observe(latencyMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// IncWorkerActive marks a worker busy.
func IncWorkerActive() { globalManager.workerActiveCount.Inc() }

// DecWorkerActive marks a worker idle.
func DecWorkerActive() { globalManager.workerActiveCount.Dec() }

// RecordHTTPRequest counts one status endpoint request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes the duration of one status endpoint
// request.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the private Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler serves the private registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry in text format to path, atomically, for
// the node-exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}
