// Package metrics provides Prometheus metrics for the regatta resolution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Resolution outcome metrics - one counter per terminal resolver state.
	candidatesProcessed prometheus.Counter
	candidatesMatched   prometheus.Counter
	candidatesCreated   prometheus.Counter
	candidatesAmbiguous prometheus.Counter
	candidatesRejected  prometheus.Counter

	// Timeline metrics
	eventsInserted  prometheus.Counter
	eventsCoalesced prometheus.Counter

	// Store metrics
	applyLatency prometheus.Histogram
	storeErrors  *prometheus.CounterVec

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge

	// Worker metrics
	workerCount      prometheus.Gauge
	normalizeLatency prometheus.Histogram
	scoringLatency   prometheus.Histogram

	// Run metrics
	runsCompleted prometheus.Counter
	runsAborted   prometheus.Counter
	runDuration   prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "regatta",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.candidatesProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_processed_total",
		Help:      "Total number of candidates that reached a terminal resolution state",
	})

	m.candidatesMatched = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_matched_total",
		Help:      "Total number of candidates merged into an existing entity",
	})

	m.candidatesCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_created_total",
		Help:      "Total number of candidates that created a new entity",
	})

	m.candidatesAmbiguous = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_ambiguous_total",
		Help:      "Total number of candidates left unresolved in the ambiguous band",
	})

	m.candidatesRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_rejected_total",
		Help:      "Total number of candidates rejected for data-quality reasons",
	})

	m.eventsInserted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_inserted_total",
		Help:      "Total number of new timeline events inserted",
	})

	m.eventsCoalesced = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_coalesced_total",
		Help:      "Total number of event drafts coalesced into existing events",
	})

	m.applyLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_apply_latency_milliseconds",
		Help:      "Per-candidate transactional apply latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_errors_total",
			Help:      "Total number of store errors by kind",
		},
		[]string{"kind"},
	)

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of queued raw records",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the raw record queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Queue utilization ratio (size / capacity)",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Number of normalization workers",
	})

	m.normalizeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "normalize_latency_milliseconds",
		Help:      "Candidate normalization latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_latency_milliseconds",
		Help:      "Candidate-vs-entity scoring latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.runsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_completed_total",
		Help:      "Total number of pipeline runs that completed",
	})

	m.runsAborted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_aborted_total",
		Help:      "Total number of pipeline runs aborted on store failure",
	})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Full pipeline run duration in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
}

// GetRegistry returns the registry all global metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RecordCandidateProcessed increments the processed counter.
func RecordCandidateProcessed() {
	globalManager.candidatesProcessed.Inc()
}

// RecordDecision increments the counter for a terminal resolver decision.
func RecordDecision(decision string) {
	switch decision {
	case "matched":
		globalManager.candidatesMatched.Inc()
	case "created":
		globalManager.candidatesCreated.Inc()
	case "ambiguous":
		globalManager.candidatesAmbiguous.Inc()
	case "rejected":
		globalManager.candidatesRejected.Inc()
	}
}

// RecordEventInserted increments the inserted events counter.
func RecordEventInserted() {
	globalManager.eventsInserted.Inc()
}

// RecordEventCoalesced increments the coalesced events counter.
func RecordEventCoalesced() {
	globalManager.eventsCoalesced.Inc()
}

// RecordApplyLatency records per-candidate apply latency in milliseconds.
func RecordApplyLatency(latencyMs float64) {
	globalManager.applyLatency.Observe(latencyMs)
}

// RecordStoreError increments the store error counter for a kind.
func RecordStoreError(kind string) {
	globalManager.storeErrors.WithLabelValues(kind).Inc()
}

// UpdateQueueSize sets the current queue size and utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// UpdateQueueCapacity sets the configured queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateWorkerCount sets the normalization worker gauge.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordNormalizeLatency records normalization latency in milliseconds.
func RecordNormalizeLatency(latencyMs float64) {
	globalManager.normalizeLatency.Observe(latencyMs)
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordRunCompleted increments the completed runs counter and observes duration.
func RecordRunCompleted(durationSeconds float64) {
	globalManager.runsCompleted.Inc()
	globalManager.runDuration.Observe(durationSeconds)
}

// RecordRunAborted increments the aborted runs counter.
func RecordRunAborted() {
	globalManager.runsAborted.Inc()
}
