package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the event pipeline
var (
	eventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streampulse_events_ingested_total",
			Help: "Total events ingested",
		},
	)

	eventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streampulse_events_processed_total",
			Help: "Total events processed",
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streampulse_anomalies_detected_total",
			Help: "Total anomalies detected",
		},
	)

	dlqEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streampulse_dlq_events_total",
			Help: "Total events promoted to the dead letter queue",
		},
	)

	ingestionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streampulse_ingestion_latency_seconds",
			Help:    "Event ingestion latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	processingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streampulse_processing_latency_seconds",
			Help:    "Event processing latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	throughputGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streampulse_throughput_events_per_second",
			Help: "Current throughput (events/sec)",
		},
	)

	latencyP95Gauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streampulse_latency_p95_ms",
			Help: "95th percentile processing latency (ms)",
		},
	)

	uptimeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streampulse_uptime_seconds",
			Help: "Application uptime",
		},
	)

	activeConnectionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streampulse_active_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)

	eventsIngestedByType = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streampulse_events_ingested_by_type_total",
			Help: "Events ingested per event type (hashed)",
		},
		[]string{"type_hash"}, // hashed for cardinality management
	)

	registerOnce sync.Once
)

func init() {
	registerOnce.Do(func() {
		prometheus.DefaultRegisterer.MustRegister(eventsIngestedTotal)
		prometheus.DefaultRegisterer.MustRegister(eventsProcessedTotal)
		prometheus.DefaultRegisterer.MustRegister(anomaliesDetectedTotal)
		prometheus.DefaultRegisterer.MustRegister(dlqEventsTotal)
		prometheus.DefaultRegisterer.MustRegister(ingestionLatency)
		prometheus.DefaultRegisterer.MustRegister(processingLatency)
		prometheus.DefaultRegisterer.MustRegister(throughputGauge)
		prometheus.DefaultRegisterer.MustRegister(latencyP95Gauge)
		prometheus.DefaultRegisterer.MustRegister(uptimeGauge)
		prometheus.DefaultRegisterer.MustRegister(activeConnectionsGauge)
		prometheus.DefaultRegisterer.MustRegister(eventsIngestedByType)
	})
}
