// Package observability exposes prometheus metrics for builds, publishes and
// point-in-time queries.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

const metricsNamespace = "meridian"

// Metrics holds every collector the service exports. All methods are safe to
// call on a nil *Metrics, which records nothing.
type Metrics struct {
	// BuildsTotal counts builds by universe, mode and outcome.
	// Labels: universe, mode (rebuild, update), outcome (success, or an error category)
	BuildsTotal *prometheus.CounterVec

	// BuildDurationSeconds measures end-to-end build latency.
	BuildDurationSeconds *prometheus.HistogramVec

	// EventsAppliedTotal counts events consumed by successful builds.
	EventsAppliedTotal *prometheus.CounterVec

	// AnomaliesTotal counts recorded anomalies.
	// Labels: universe, kind (duplicate_add, orphan_remove, empty_interval, malformed_row)
	AnomaliesTotal *prometheus.CounterVec

	// PublishedRows is the row count of the active artifacts.
	// Labels: universe, kind (daily, intervals)
	PublishedRows *prometheus.GaugeVec

	// PublishDurationSeconds measures upload plus manifest swap latency.
	PublishDurationSeconds *prometheus.HistogramVec

	// RollbacksTotal counts publishes that were rolled back.
	RollbacksTotal *prometheus.CounterVec

	// GCDeletedObjectsTotal counts objects removed by garbage collection.
	GCDeletedObjectsTotal prometheus.Counter

	// QueryDurationSeconds measures point-in-time query latency.
	// Labels: operation (members, history, builds), status (success, error)
	QueryDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "total",
			Help:      "Builds by universe, mode and outcome",
		}, []string{"universe", "mode", "outcome"}),
		BuildDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Build duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"universe", "mode"}),
		EventsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "events_applied_total",
			Help:      "Membership events consumed by successful builds",
		}, []string{"universe"}),
		AnomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "anomalies_total",
			Help:      "Anomalies recorded by builds",
		}, []string{"universe", "kind"}),
		PublishedRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "publish",
			Name:      "rows",
			Help:      "Row count of the active artifacts",
		}, []string{"universe", "kind"}),
		PublishDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Upload and manifest swap duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"universe"}),
		RollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "publish",
			Name:      "rollbacks_total",
			Help:      "Publishes rolled back before commit",
		}, []string{"universe"}),
		GCDeletedObjectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gc",
			Name:      "deleted_objects_total",
			Help:      "Objects deleted by garbage collection",
		}),
		QueryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Point-in-time query duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation", "status"}),
	}
}

// Outcome returns the outcome label for a build error.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	if c := merrors.GetCategory(err); c != "" {
		return string(c)
	}
	return "error"
}

// RecordBuild records a finished build. summary may be nil on failure.
func (m *Metrics) RecordBuild(universe string, mode types.BuildMode, elapsed time.Duration, summary *types.BuildSummary, anomalies []types.Anomaly, err error) {
	if m == nil {
		return
	}
	m.BuildsTotal.WithLabelValues(universe, string(mode), Outcome(err)).Inc()
	m.BuildDurationSeconds.WithLabelValues(universe, string(mode)).Observe(elapsed.Seconds())
	if err != nil || summary == nil {
		return
	}
	m.EventsAppliedTotal.WithLabelValues(universe).Add(float64(summary.EventCount))
	for _, a := range anomalies {
		m.AnomaliesTotal.WithLabelValues(universe, string(a.Kind)).Inc()
	}
	m.PublishedRows.WithLabelValues(universe, "daily").Set(float64(summary.DailyRowCount))
	m.PublishedRows.WithLabelValues(universe, "intervals").Set(float64(summary.IntervalCount))
}

// RecordPublish records the duration of a publish and whether it was rolled back.
func (m *Metrics) RecordPublish(universe string, elapsed time.Duration, rolledBack bool) {
	if m == nil {
		return
	}
	m.PublishDurationSeconds.WithLabelValues(universe).Observe(elapsed.Seconds())
	if rolledBack {
		m.RollbacksTotal.WithLabelValues(universe).Inc()
	}
}

// RecordGC records objects deleted by one garbage collection run.
func (m *Metrics) RecordGC(deletedObjects int) {
	if m == nil {
		return
	}
	m.GCDeletedObjectsTotal.Add(float64(deletedObjects))
}

// RecordQuery records one point-in-time query.
func (m *Metrics) RecordQuery(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.QueryDurationSeconds.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}
