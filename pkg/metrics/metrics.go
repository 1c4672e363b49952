package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PushMetrics records observations about the push pipeline (snapshot, upload,
// directory update) driven by markAsChanged / the keyed scheduler.
//
// A nil *PushMetrics is valid and all methods are no-ops on it, so components
// can be constructed without metrics enabled.
type PushMetrics struct {
	pushesTotal    *prometheus.CounterVec
	pushDuration   *prometheus.HistogramVec
	snapshotBytes  prometheus.Histogram
	retriesTotal   prometheus.Counter
	pendingGauge   prometheus.Gauge
}

// NewPushMetrics creates a Prometheus-backed PushMetrics instance.
//
// Returns nil when metrics are not enabled (InitRegistry not called), which
// callers treat as "no metrics" via nil-safe methods below.
func NewPushMetrics() *PushMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &PushMetrics{
		pushesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_pushes_total",
				Help: "Total number of document push attempts by outcome",
			},
			[]string{"outcome"}, // success, failure
		),
		pushDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docstore_push_duration_seconds",
				Help:    "Duration of a full push (snapshot + upload + directory update)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		snapshotBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docstore_snapshot_bytes",
				Help:    "Size in bytes of SQLite snapshots produced before upload",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		retriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docstore_push_retries_total",
				Help: "Total number of push retries after a failed attempt",
			},
		),
		pendingGauge: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docstore_pending_pushes",
				Help: "Current number of documents with a pending or in-flight push",
			},
		),
	}
}

// ObservePush records the outcome and duration of one push attempt.
func (m *PushMetrics) ObservePush(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.pushesTotal.WithLabelValues(outcome).Inc()
	m.pushDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveSnapshotSize records the size of a produced SQLite snapshot.
func (m *PushMetrics) ObserveSnapshotSize(bytes int64) {
	if m == nil {
		return
	}
	m.snapshotBytes.Observe(float64(bytes))
}

// IncRetries increments the push retry counter.
func (m *PushMetrics) IncRetries() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// SetPending sets the current pending-push gauge.
func (m *PushMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingGauge.Set(float64(n))
}

// ObjectStoreMetrics records checksummed-store operation counts and retries.
type ObjectStoreMetrics struct {
	operationsTotal *prometheus.CounterVec
	hashRetries     *prometheus.CounterVec
	operationBytes  *prometheus.HistogramVec
}

// NewObjectStoreMetrics creates a Prometheus-backed ObjectStoreMetrics instance,
// or nil when metrics are disabled.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &ObjectStoreMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_objectstore_operations_total",
				Help: "Total checksummed object store operations by type and outcome",
			},
			[]string{"operation", "outcome"},
		),
		hashRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_objectstore_hash_retries_total",
				Help: "Total retries caused by a digest mismatch against the shared hash",
			},
			[]string{"operation"},
		),
		operationBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docstore_objectstore_bytes",
				Help:    "Bytes transferred per checksummed store operation",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation records a completed store operation.
func (m *ObjectStoreMetrics) ObserveOperation(operation string, success bool, bytes int64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	if bytes > 0 {
		m.operationBytes.WithLabelValues(operation).Observe(float64(bytes))
	}
}

// IncHashRetry records a digest-mismatch retry for the given operation.
func (m *ObjectStoreMetrics) IncHashRetry(operation string) {
	if m == nil {
		return
	}
	m.hashRetries.WithLabelValues(operation).Inc()
}

// SchedulerMetrics records keyed-scheduler state transitions.
type SchedulerMetrics struct {
	operationsTotal *prometheus.CounterVec
	activeKeys      prometheus.Gauge
	failuresTotal   prometheus.Counter
}

// NewSchedulerMetrics creates a Prometheus-backed SchedulerMetrics instance,
// or nil when metrics are disabled.
func NewSchedulerMetrics() *SchedulerMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &SchedulerMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_scheduler_runs_total",
				Help: "Total keyed-operation runs by outcome",
			},
			[]string{"outcome"},
		),
		activeKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docstore_scheduler_active_keys",
				Help: "Current number of keys with scheduled, running, or retrying operations",
			},
		),
		failuresTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docstore_scheduler_failures_total",
				Help: "Total failed worker invocations across all keys",
			},
		),
	}
}

// ObserveRun records one worker invocation outcome.
func (m *SchedulerMetrics) ObserveRun(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
		m.failuresTotal.Inc()
	}
	m.operationsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveKeys sets the current active-key gauge.
func (m *SchedulerMetrics) SetActiveKeys(n int) {
	if m == nil {
		return
	}
	m.activeKeys.Set(float64(n))
}

// PrunerMetrics records snapshot pruner activity.
type PrunerMetrics struct {
	runsTotal      *prometheus.CounterVec
	versionsPruned prometheus.Counter
}

// NewPrunerMetrics creates a Prometheus-backed PrunerMetrics instance, or nil
// when metrics are disabled.
func NewPrunerMetrics() *PrunerMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &PrunerMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_pruner_runs_total",
				Help: "Total pruner runs by outcome",
			},
			[]string{"outcome"},
		),
		versionsPruned: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docstore_pruner_versions_deleted_total",
				Help: "Total object versions deleted by the pruner",
			},
		),
	}
}

// ObserveRun records one pruning run outcome.
func (m *PrunerMetrics) ObserveRun(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// AddVersionsPruned adds n to the deleted-versions counter.
func (m *PrunerMetrics) AddVersionsPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.versionsPruned.Add(float64(n))
}
