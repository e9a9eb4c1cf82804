package metrics

import (
	"testing"
	"time"
)

func TestReservoirEviction(t *testing.T) {
	r := newReservoir(3)
	for i := 1; i <= 5; i++ {
		r.add(float64(i))
	}

	snapshot := r.snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 samples after eviction, got %d", len(snapshot))
	}

	sum := 0.0
	for _, v := range snapshot {
		sum += v
	}
	// Oldest samples (1, 2) evicted; 3+4+5 remain.
	if sum != 12 {
		t.Errorf("expected surviving samples to sum to 12, got %v", sum)
	}
}

func TestReservoirSnapshotIsCopy(t *testing.T) {
	r := newReservoir(4)
	r.add(1)
	snapshot := r.snapshot()
	snapshot[0] = 99

	if r.snapshot()[0] != 1 {
		t.Error("snapshot mutation leaked into the reservoir")
	}
}

func TestSummaryEmpty(t *testing.T) {
	c := NewCollector(5000, 50)
	s := c.Summary()

	if s.EventsPerSecond != 0 {
		t.Errorf("expected zero throughput, got %v", s.EventsPerSecond)
	}
	if s.AvgLatency != 0 || s.P95Latency != 0 || s.P99Latency != 0 {
		t.Errorf("expected zero latencies, got %+v", s)
	}
	if s.ThroughputTarget != 5000 {
		t.Errorf("expected throughput target echoed, got %d", s.ThroughputTarget)
	}
	if s.LatencyTarget != 50 {
		t.Errorf("expected latency target echoed, got %d", s.LatencyTarget)
	}
}

func TestSummaryCountsAndLatency(t *testing.T) {
	c := NewCollector(5000, 50)

	for i := 0; i < 10; i++ {
		start := c.RecordProcessingStart()
		c.RecordProcessingEnd(start, i == 0)
	}

	s := c.Summary()
	if s.Anomalies != 1 {
		t.Errorf("expected 1 anomaly, got %d", s.Anomalies)
	}
	if c.EventsProcessed() != 10 {
		t.Errorf("expected 10 processed, got %d", c.EventsProcessed())
	}

	// Uptime is under a second here, so the denominator floor of 1 second
	// makes events_per_second equal the processed count.
	if s.EventsPerSecond != 10 {
		t.Errorf("expected events_per_second=10 with floored denominator, got %v", s.EventsPerSecond)
	}
}

func TestSummaryLatencyInMilliseconds(t *testing.T) {
	c := NewCollector(5000, 50)

	// Synthetic 20ms samples via a backdated start time.
	for i := 0; i < 5; i++ {
		c.RecordProcessingEnd(time.Now().Add(-20*time.Millisecond), false)
	}

	s := c.Summary()
	if s.AvgLatency < 15 || s.AvgLatency > 60 {
		t.Errorf("expected avg latency around 20ms, got %v", s.AvgLatency)
	}
	if s.P95Latency < s.AvgLatency {
		t.Errorf("expected P95 >= P50, got p50=%v p95=%v", s.AvgLatency, s.P95Latency)
	}
}

func TestThroughputRoundTrip(t *testing.T) {
	c := NewCollector(5000, 50)
	c.UpdateThroughput(1234.5)
	if got := c.Throughput(); got != 1234.5 {
		t.Errorf("expected throughput 1234.5, got %v", got)
	}
}

func TestHashLabel(t *testing.T) {
	if HashLabel("") != "unknown" {
		t.Error("expected empty label to hash to unknown")
	}
	a := HashLabel("sensor_reading")
	if len(a) != 8 {
		t.Errorf("expected 8-char hash, got %q", a)
	}
	if a != HashLabel("sensor_reading") {
		t.Error("expected hash to be stable")
	}
	if a == HashLabel("other_type") {
		t.Error("expected different labels to hash differently")
	}
}
