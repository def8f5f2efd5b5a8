package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizthread_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// TransportQueryLatency records document transport latency by operation and collection.
	TransportQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quizthread_transport_query_latency_seconds",
		Help:    "Document transport latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "collection"})

	// CommentCommands counts comment store commands by operation and result code.
	CommentCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizthread_comment_commands_total",
		Help: "Total comment commands by operation and result",
	}, []string{"operation", "result"})

	// ActiveSubscriptions is the gauge of live thread subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizthread_active_subscriptions",
		Help: "Number of active thread change-feed subscriptions",
	})

	// FallbackFetches counts fallback timer firings by outcome.
	FallbackFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizthread_fallback_fetches_total",
		Help: "Total fallback fetches triggered by the sync timer",
	}, []string{"outcome"})

	// TreeBuilds counts thread rebuilds by the source that triggered them.
	TreeBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizthread_tree_builds_total",
		Help: "Total thread tree rebuilds by trigger source",
	}, []string{"source"})

	// ThreadChangeEvents counts change notifications by how they were delivered.
	ThreadChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizthread_thread_change_events_total",
		Help: "Total thread change notifications by channel",
	}, []string{"channel"})
)

// TransportMetrics records transport latency for one backend.
type TransportMetrics struct {
	collection string
}

// NewTransportMetrics returns a new TransportMetrics instance.
func NewTransportMetrics(collection string) *TransportMetrics {
	return &TransportMetrics{collection: collection}
}

// ObserveQuery records the latency of a transport call.
func (m *TransportMetrics) ObserveQuery(operation string, start time.Time) {
	TransportQueryLatency.WithLabelValues(operation, m.collection).Observe(time.Since(start).Seconds())
}

// TrackQuery returns a function that records latency when called (e.g. defer).
func (m *TransportMetrics) TrackQuery(operation string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, start)
	}
}

// RecordCommand increments the command counter. An empty result means success.
func RecordCommand(operation, result string) {
	if result == "" {
		result = "ok"
	}
	CommentCommands.WithLabelValues(operation, result).Inc()
}
