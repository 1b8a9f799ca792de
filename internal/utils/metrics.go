package utils

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	requestCount atomic.Uint64
	errorCount   atomic.Uint64

	registry   *prometheus.Registry
	requests   prometheus.Counter
	errors     prometheus.Counter
	snapshots  prometheus.Counter
	fallbacks  *prometheus.CounterVec
	mutations  *prometheus.CounterVec
	operations *prometheus.HistogramVec

	systemStartTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socialsphere",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socialsphere",
			Name:      "errors_total",
			Help:      "Requests that ended in an error response.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socialsphere",
			Name:      "feed_snapshots_total",
			Help:      "Live feed snapshots applied.",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socialsphere",
			Name:      "query_fallbacks_total",
			Help:      "Ordered queries served by the unordered fetch plus in-memory sort.",
		}, []string{"collection"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socialsphere",
			Name:      "mutations_total",
			Help:      "Remote mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "socialsphere",
			Name:      "operation_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		systemStartTime: time.Now(),
	}
	mc.registry.MustRegister(mc.requests, mc.errors, mc.snapshots, mc.fallbacks, mc.mutations, mc.operations)
	return mc
}

// Registry exposes the collector's registry for the /metrics handler.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.requestCount.Add(1)
	mc.requests.Inc()
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.errorCount.Add(1)
	mc.errors.Inc()
}

func (mc *MetricsCollector) IncrementSnapshots() {
	mc.snapshots.Inc()
}

func (mc *MetricsCollector) IncrementFallbacks(collection string) {
	mc.fallbacks.WithLabelValues(collection).Inc()
}

// RecordMutation counts a remote write; outcome is "ok" or "failed".
func (mc *MetricsCollector) RecordMutation(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	mc.mutations.WithLabelValues(kind, outcome).Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operations.WithLabelValues(operationName).Observe(duration.Seconds())
}

// Counts returns the request and error totals since start.
func (mc *MetricsCollector) Counts() (requests, errors uint64) {
	return mc.requestCount.Load(), mc.errorCount.Load()
}

func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}
