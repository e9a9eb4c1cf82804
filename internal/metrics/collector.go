package metrics

import (
	"sync"
	"time"
)

const (
	// ReservoirSize bounds the number of latency samples kept for percentile
	// computation; older samples are evicted.
	ReservoirSize = 10_000

	// anomalyAccuracy is a static placeholder; no ground-truth feedback
	// channel exists to compute a real value.
	anomalyAccuracy = 0.87
)

// Summary is the on-demand metrics snapshot broadcast to subscribers and
// served by the metrics endpoint. Latencies are in milliseconds.
type Summary struct {
	EventsPerSecond   float64 `json:"events_per_second"`
	AvgLatency        float64 `json:"avg_latency"`
	P95Latency        float64 `json:"p95_latency"`
	P99Latency        float64 `json:"p99_latency"`
	Anomalies         int64   `json:"anomalies"`
	Uptime            float64 `json:"uptime"`
	ThroughputTarget  int     `json:"throughput_target"`
	LatencyTarget     int     `json:"latency_target"`
	AnomalyAccuracy   float64 `json:"anomaly_accuracy"`
	ActiveConnections int64   `json:"active_connections"`
}

// reservoir is a bounded FIFO sample window.
type reservoir struct {
	samples []float64
	next    int
	full    bool
}

func newReservoir(size int) *reservoir {
	return &reservoir{samples: make([]float64, 0, size)}
}

func (r *reservoir) add(v float64) {
	if r.full {
		r.samples[r.next] = v
		r.next = (r.next + 1) % cap(r.samples)
		return
	}
	r.samples = append(r.samples, v)
	if len(r.samples) == cap(r.samples) {
		r.full = true
	}
}

func (r *reservoir) snapshot() []float64 {
	out := make([]float64, len(r.samples))
	copy(out, r.samples)
	return out
}

// Collector tracks pipeline metrics: Prometheus counters and gauges for
// export, plus in-process latency reservoirs for percentile summaries.
// It is mutated concurrently by all workers, the ingest path, and the
// metrics updater, so all reservoir access is behind a mutex.
type Collector struct {
	mu              sync.Mutex
	ingestionTimes  *reservoir
	processingTimes *reservoir

	eventsProcessed   int64
	anomaliesDetected int64
	activeConnections int64
	throughput        float64

	startTime time.Time

	throughputTarget int
	latencyTarget    int
}

// NewCollector creates a collector echoing the given performance targets in
// its summaries.
func NewCollector(throughputTarget, latencyTargetP95 int) *Collector {
	return &Collector{
		ingestionTimes:   newReservoir(ReservoirSize),
		processingTimes:  newReservoir(ReservoirSize),
		startTime:        time.Now(),
		throughputTarget: throughputTarget,
		latencyTarget:    latencyTargetP95,
	}
}

// RecordIngestion records a completed batch ingestion of eventCount events.
func (c *Collector) RecordIngestion(duration time.Duration, eventCount int) {
	seconds := duration.Seconds()
	ingestionLatency.Observe(seconds)
	eventsIngestedTotal.Add(float64(eventCount))

	c.mu.Lock()
	c.ingestionTimes.add(seconds)
	c.mu.Unlock()
}

// RecordIngestedType counts one ingested event against its (hashed) type.
func (c *Collector) RecordIngestedType(eventType string) {
	eventsIngestedByType.WithLabelValues(HashLabel(eventType)).Inc()
}

// RecordProcessingStart marks the start of single-event processing.
func (c *Collector) RecordProcessingStart() time.Time {
	return time.Now()
}

// RecordProcessingEnd records a completed (or failed) processing attempt.
// The latency sample is kept either way; anomalies bump their own counter.
func (c *Collector) RecordProcessingEnd(start time.Time, anomalyDetected bool) {
	seconds := time.Since(start).Seconds()
	processingLatency.Observe(seconds)
	eventsProcessedTotal.Inc()

	c.mu.Lock()
	c.processingTimes.add(seconds)
	c.eventsProcessed++
	if anomalyDetected {
		c.anomaliesDetected++
	}
	c.mu.Unlock()

	if anomalyDetected {
		anomaliesDetectedTotal.Inc()
	}
}

// RecordDLQ counts one event promoted to the dead letter queue.
func (c *Collector) RecordDLQ() {
	dlqEventsTotal.Inc()
}

// UpdateThroughput sets the current throughput gauge; called periodically by
// the worker pool with the processed delta over the last interval.
func (c *Collector) UpdateThroughput(eventsPerSecond float64) {
	throughputGauge.Set(eventsPerSecond)

	c.mu.Lock()
	c.throughput = eventsPerSecond
	c.mu.Unlock()
}

// UpdateLatencyP95 recomputes and publishes the P95 processing latency.
func (c *Collector) UpdateLatencyP95() {
	c.mu.Lock()
	samples := c.processingTimes.snapshot()
	c.mu.Unlock()

	if len(samples) > 0 {
		latencyP95Gauge.Set(Percentile(samples, 95) * 1000)
	}
}

// UpdateUptime publishes the current uptime.
func (c *Collector) UpdateUptime() {
	uptimeGauge.Set(time.Since(c.startTime).Seconds())
}

// UpdateActiveConnections publishes the subscriber connection count.
func (c *Collector) UpdateActiveConnections(count int) {
	activeConnectionsGauge.Set(float64(count))

	c.mu.Lock()
	c.activeConnections = int64(count)
	c.mu.Unlock()
}

// EventsProcessed returns the cumulative processed-event count.
func (c *Collector) EventsProcessed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventsProcessed
}

// Throughput returns the last published throughput value.
func (c *Collector) Throughput() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throughput
}

// Summary computes the current metrics snapshot on demand.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	processing := c.processingTimes.snapshot()
	processed := c.eventsProcessed
	anomalies := c.anomaliesDetected
	connections := c.activeConnections
	c.mu.Unlock()

	var p50, p95, p99 float64
	if len(processing) > 0 {
		p50 = Percentile(processing, 50)
		p95 = Percentile(processing, 95)
		p99 = Percentile(processing, 99)
	}

	uptime := time.Since(c.startTime).Seconds()
	denominator := uptime
	if denominator < 1 {
		denominator = 1
	}

	return Summary{
		EventsPerSecond:   float64(processed) / denominator,
		AvgLatency:        p50 * 1000,
		P95Latency:        p95 * 1000,
		P99Latency:        p99 * 1000,
		Anomalies:         anomalies,
		Uptime:            uptime,
		ThroughputTarget:  c.throughputTarget,
		LatencyTarget:     c.latencyTarget,
		AnomalyAccuracy:   anomalyAccuracy,
		ActiveConnections: connections,
	}
}
