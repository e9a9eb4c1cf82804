package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/streampulse-analytics-platform/internal/metrics"
	"github.com/streampulse-analytics-platform/internal/models"
	"github.com/streampulse-analytics-platform/internal/stream"
)

// recordingAlerter captures alert callbacks for assertions.
type recordingAlerter struct {
	mu       sync.Mutex
	alerts   []alertRecord
	warnings []float64
}

type alertRecord struct {
	eventID string
	value   float64
	zScore  float64
}

func (r *recordingAlerter) AnomalyAlert(eventID string, value, zScore float64, processedAt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alertRecord{eventID: eventID, value: value, zScore: zScore})
}

func (r *recordingAlerter) ThroughputWarning(currentThroughput float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, currentThroughput)
}

func (r *recordingAlerter) alertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func (r *recordingAlerter) lastAlert() alertRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerts[len(r.alerts)-1]
}

func newTestPool(t *testing.T, cfg Config) (*Pool, stream.Log, *recordingAlerter, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logClient := stream.NewRedisLog(client)
	collector := metrics.NewCollector(5000, 50)
	alerter := &recordingAlerter{}
	pool := NewPool(cfg, logClient, collector, alerter)

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return pool, logClient, alerter, cleanup
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WorkerCount = 2
	cfg.BlockTimeout = 20 * time.Millisecond
	// Keeps retry delays around a millisecond so exhaustion is observable
	// within the test timeout.
	cfg.BackoffBase = 0.001
	return cfg
}

func eventFields(value string) map[string]string {
	return map[string]string{
		models.FieldTimestamp: "2024-01-30T10:45:00Z",
		models.FieldType:      "sensor_reading",
		models.FieldValue:     value,
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolProcessesAppendedEvents(t *testing.T) {
	pool, logClient, _, cleanup := newTestPool(t, testConfig())
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := logClient.Append(ctx, stream.EventsStream, eventFields("42.5"), stream.EventsMaxLen); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	waitFor(t, 5*time.Second, "events to be processed", func() bool {
		return pool.Stats().ProcessedCount == n
	})

	entries, err := logClient.ReadRange(ctx, stream.ProcessedStream, "-", "+", false, 0)
	if err != nil {
		t.Fatalf("read processed stream failed: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d processed entries, got %d", n, len(entries))
	}

	fields := entries[0].Fields
	if fields[models.FieldValue] != "42.5" {
		t.Errorf("original value not carried through: %q", fields[models.FieldValue])
	}
	if fields[models.FieldAnomalyDetected] != "false" {
		t.Errorf("expected anomaly_detected=false during warmup, got %q", fields[models.FieldAnomalyDetected])
	}
	if fields[models.FieldProcessedAt] == "" || fields[models.FieldWorkerID] == "" {
		t.Errorf("missing processing annotations: %v", fields)
	}

	stats := pool.Stats()
	if stats.FailedCount != 0 {
		t.Errorf("expected no failures, got %d", stats.FailedCount)
	}
	if stats.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0, got %f", stats.SuccessRate)
	}
}

func TestPoolIgnoresEventsBeforeStart(t *testing.T) {
	pool, logClient, _, cleanup := newTestPool(t, testConfig())
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Appended before Start: outside the consumption window.
	logClient.Append(ctx, stream.EventsStream, eventFields("1"), stream.EventsMaxLen)

	pool.Start(ctx)
	defer pool.Stop()

	logClient.Append(ctx, stream.EventsStream, eventFields("2"), stream.EventsMaxLen)

	waitFor(t, 5*time.Second, "post-start event to be processed", func() bool {
		return pool.Stats().ProcessedCount == 1
	})

	entries, _ := logClient.ReadRange(ctx, stream.ProcessedStream, "-", "+", false, 0)
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 processed entry, got %d", len(entries))
	}
	if entries[0].Fields[models.FieldValue] != "2" {
		t.Errorf("expected only the post-start event, got %v", entries[0].Fields)
	}
}

func TestPoolStartStopIdempotent(t *testing.T) {
	pool, _, _, cleanup := newTestPool(t, testConfig())
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pool.Running() {
		t.Fatal("expected new pool to be stopped")
	}

	pool.Start(ctx)
	pool.Start(ctx)
	if !pool.Running() {
		t.Fatal("expected pool to be running")
	}

	pool.Stop()
	pool.Stop()
	if pool.Running() {
		t.Fatal("expected pool to be stopped")
	}
}

func TestPoolStopDrainsWithoutFailures(t *testing.T) {
	pool, logClient, _, cleanup := newTestPool(t, testConfig())
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	const n = 200
	for i := 0; i < n; i++ {
		if _, err := logClient.Append(ctx, stream.EventsStream, eventFields("42.5"), stream.EventsMaxLen); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	// Stop while entries are still in flight; everything already dispatched
	// must finish through the success path.
	waitFor(t, 5*time.Second, "processing to begin", func() bool {
		return pool.Stats().ProcessedCount > 0
	})
	pool.Stop()

	stats := pool.Stats()
	if stats.FailedCount != 0 {
		t.Errorf("shutdown failed %d valid events", stats.FailedCount)
	}
	if stats.DLQCount != 0 {
		t.Errorf("shutdown routed %d valid events to the DLQ", stats.DLQCount)
	}

	entries, err := logClient.ReadRange(context.Background(), stream.ProcessedStream, "-", "+", false, 0)
	if err != nil {
		t.Fatalf("read processed stream failed: %v", err)
	}
	if int64(len(entries)) != stats.ProcessedCount {
		t.Errorf("processed stream has %d entries but counter says %d", len(entries), stats.ProcessedCount)
	}

	// Nothing was re-appended for retry either.
	time.Sleep(50 * time.Millisecond)
	if got := pool.Stats().FailedCount; got != 0 {
		t.Errorf("late failures after stop: %d", got)
	}
}

func TestPoolRetriesThenPromotesToDLQ(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	pool, logClient, _, cleanup := newTestPool(t, cfg)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	// Missing value field: fails deterministically on every attempt.
	broken := map[string]string{
		models.FieldTimestamp: "2024-01-30T10:45:00Z",
		models.FieldType:      "sensor_reading",
	}
	if _, err := logClient.Append(ctx, stream.EventsStream, broken, stream.EventsMaxLen); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	waitFor(t, 10*time.Second, "event to be promoted to DLQ", func() bool {
		return pool.Stats().DLQCount == 1
	})

	stats := pool.Stats()
	// Initial attempt plus two retries all failed.
	if stats.FailedCount != 3 {
		t.Errorf("expected 3 failed attempts, got %d", stats.FailedCount)
	}

	entries, err := logClient.ReadRange(ctx, stream.DLQStream, "-", "+", false, 0)
	if err != nil {
		t.Fatalf("read DLQ failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	fields := entries[0].Fields
	if fields[models.FieldFinalRetryCount] != "3" {
		t.Errorf("expected final_retry_count=3, got %q", fields[models.FieldFinalRetryCount])
	}
	if fields[models.FieldOriginalEventID] == "" {
		t.Error("expected original_event_id to be recorded")
	}
	if fields[models.FieldDLQReason] == "" || fields[models.FieldDLQTimestamp] == "" {
		t.Errorf("missing DLQ annotations: %v", fields)
	}
}

func TestPoolDropsWhenDLQDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.DLQEnabled = false
	pool, logClient, _, cleanup := newTestPool(t, cfg)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	broken := map[string]string{models.FieldTimestamp: "t", models.FieldType: "x"}
	logClient.Append(ctx, stream.EventsStream, broken, stream.EventsMaxLen)

	waitFor(t, 5*time.Second, "failure to be recorded", func() bool {
		return pool.Stats().FailedCount >= 1
	})

	// Give the drop path a beat, then confirm nothing landed in the DLQ.
	time.Sleep(100 * time.Millisecond)
	info, err := logClient.StreamInfo(ctx, stream.DLQStream)
	if err == nil && info.Length != 0 {
		t.Errorf("expected empty DLQ with DLQ disabled, got %d entries", info.Length)
	}
	if pool.Stats().DLQCount != 0 {
		t.Errorf("expected dlq_count 0, got %d", pool.Stats().DLQCount)
	}
}

func TestPoolAnomalyAlert(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 1
	pool, logClient, alerter, cleanup := newTestPool(t, cfg)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	// Warm the single worker's detector past its minimum sample count.
	// Alternating values keep the window's spread healthy, so the warmup
	// itself never reads as anomalous.
	const warmup = 50
	for i := 0; i < warmup; i++ {
		if i%2 == 0 {
			logClient.Append(ctx, stream.EventsStream, eventFields("10.5"), stream.EventsMaxLen)
		} else {
			logClient.Append(ctx, stream.EventsStream, eventFields("9.5"), stream.EventsMaxLen)
		}
	}
	waitFor(t, 10*time.Second, "warmup events to be processed", func() bool {
		return pool.Stats().ProcessedCount == warmup
	})

	logClient.Append(ctx, stream.EventsStream, eventFields("1000"), stream.EventsMaxLen)

	waitFor(t, 10*time.Second, "anomaly alert", func() bool {
		return alerter.alertCount() >= 1
	})

	alert := alerter.lastAlert()
	if alert.value != 1000 {
		t.Errorf("expected alert value 1000, got %g", alert.value)
	}
	if alert.zScore <= 3.0 {
		t.Errorf("expected z-score above threshold, got %f", alert.zScore)
	}
	if alert.eventID == "" {
		t.Error("expected alert to carry the event id")
	}
}
