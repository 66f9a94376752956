// Package metrics registers the Prometheus collectors scraped from Nexo's
// dashboard HTTP listener, covering connections, the wire protocol, each
// broker, and the worker pool.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_connections_total",
		Help: "Total number of TCP connections accepted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_connections_active",
		Help: "Current number of open connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexo_connections_rejected_total",
		Help: "Total connections rejected by reason",
	}, []string{"reason"})

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexo_frames_received_total",
		Help: "Total frames received by type",
	}, []string{"type"})

	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexo_frames_sent_total",
		Help: "Total frames sent by type",
	}, []string{"type"})

	BadFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_bad_frames_total",
		Help: "Total connections closed due to a malformed frame",
	})

	PendingRequestsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_pending_requests_expired_total",
		Help: "Total pending requests that hit the deadline sweep without a response",
	})

	KVKeysTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_kv_keys_total",
		Help: "Current number of keys in the KV store",
	})

	KVExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_kv_expired_total",
		Help: "Total keys removed by TTL expiration",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexo_queue_depth",
		Help: "Current pending message count by queue and state",
	}, []string{"queue", "state"})

	QueueRedeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexo_queue_redeliveries_total",
		Help: "Total message redeliveries by queue",
	}, []string{"queue"})

	QueueDeadLettersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexo_queue_dead_letters_total",
		Help: "Total messages moved to a queue's DLQ",
	}, []string{"queue"})

	PubSubSubscribersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_pubsub_subscribers_active",
		Help: "Current number of active topic subscriptions",
	})

	PubSubMessagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_pubsub_messages_published_total",
		Help: "Total publish operations accepted",
	})

	PubSubDeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_pubsub_deliveries_total",
		Help: "Total messages fanned out to subscribers",
	})

	StreamRecordsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexo_stream_records_appended_total",
		Help: "Total records appended by stream",
	}, []string{"stream"})

	StreamConsumerLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexo_stream_consumer_lag",
		Help: "Records between a group's committed offset and partition head",
	}, []string{"stream", "partition", "group"})

	WorkerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_worker_queue_depth",
		Help: "Current number of tasks waiting in the worker pool queue",
	})

	WorkerQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_worker_queue_capacity",
		Help: "Maximum capacity of the worker pool queue",
	})

	WorkerTasksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexo_worker_tasks_dropped_total",
		Help: "Total tasks dropped because the worker pool queue was full",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_memory_bytes",
		Help: "Current process memory usage in bytes",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_cpu_usage_percent",
		Help: "Current CPU usage percentage relative to the container allocation",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexo_goroutines_active",
		Help: "Current number of live goroutines",
	})
)

// Registry collects every metric above into its own prometheus.Registry so
// tests can construct independent instances instead of fighting over the
// global default registry.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		FramesReceived,
		FramesSent,
		BadFramesTotal,
		PendingRequestsExpired,
		KVKeysTotal,
		KVExpiredTotal,
		QueueDepth,
		QueueRedeliveriesTotal,
		QueueDeadLettersTotal,
		PubSubSubscribersActive,
		PubSubMessagesPublished,
		PubSubDeliveriesTotal,
		StreamRecordsAppended,
		StreamConsumerLag,
		WorkerQueueDepth,
		WorkerQueueCapacity,
		WorkerTasksDropped,
		MemoryUsageBytes,
		CPUUsagePercent,
		GoroutinesActive,
	)
	return &Registry{reg: reg}
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
