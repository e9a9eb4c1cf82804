package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streampulse-analytics-platform/internal/anomaly"
	"github.com/streampulse-analytics-platform/internal/metrics"
	"github.com/streampulse-analytics-platform/internal/models"
	"github.com/streampulse-analytics-platform/internal/stream"
)

const (
	// idleSleep is the pause after an empty tail read to avoid busy-waiting.
	idleSleep = 100 * time.Millisecond

	// errorSleep is the pause after a transient log error before resuming.
	errorSleep = time.Second

	// metricsInterval is the cadence of the throughput/latency updater.
	metricsInterval = 5 * time.Second
)

// Config holds worker pool settings.
type Config struct {
	WorkerCount  int
	MaxBatch     int64
	BlockTimeout time.Duration
	MaxRetries   int
	BackoffBase  float64
	DLQEnabled   bool
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:  3,
		MaxBatch:     1000,
		BlockTimeout: time.Second,
		MaxRetries:   3,
		BackoffBase:  2.0,
		DLQEnabled:   true,
	}
}

// Alerter receives push notifications from the pool. The broadcast hub
// implements it; tests substitute a recorder.
type Alerter interface {
	AnomalyAlert(eventID string, value, zScore float64, processedAt string)
	ThroughputWarning(currentThroughput float64)
}

// Stats is the worker pool's admin-facing state snapshot.
type Stats struct {
	Running        bool    `json:"running"`
	ProcessedCount int64   `json:"processed_count"`
	FailedCount    int64   `json:"failed_count"`
	DLQCount       int64   `json:"dlq_count"`
	SuccessRate    float64 `json:"success_rate"`
}

// Pool consumes the events stream with a fixed set of workers.
//
// A single dispatcher goroutine owns the stream cursor and fans entries out
// over a channel, so delivery is gap-free and each entry reaches exactly one
// worker. Within a worker, entries are processed in the order received;
// there is no ordering across workers. Each worker holds its own anomaly
// detector, giving it a consistent but partitioned statistical view.
type Pool struct {
	cfg       Config
	log       stream.Log
	collector *metrics.Collector
	alerter   Alerter

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processedCount atomic.Int64
	failedCount    atomic.Int64
	dlqCount       atomic.Int64
}

// NewPool creates a stopped pool.
func NewPool(cfg Config, logClient stream.Log, collector *metrics.Collector, alerter Alerter) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1000
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = time.Second
	}
	return &Pool{
		cfg:       cfg,
		log:       logClient,
		collector: collector,
		alerter:   alerter,
	}
}

// Start launches the dispatcher, the workers, and the metrics updater.
// Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)

	entries := make(chan stream.Entry, p.cfg.MaxBatch)

	// The cursor is pinned before Start returns, so everything appended
	// afterwards is guaranteed to be inside the consumption window.
	cursor := p.resolveTail(runCtx)

	p.wg.Add(1)
	go p.dispatch(runCtx, entries, cursor)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.work(fmt.Sprintf("worker-%d", i), entries)
	}

	p.wg.Add(1)
	go p.updateMetrics(runCtx)

	log.Printf("[WorkerPool] Started %d workers", p.cfg.WorkerCount)
}

// Stop signals the pool and waits for in-flight entries to finish. Entries
// already dispatched are drained through the normal processing path: their
// appends run on a detached context, so cancellation never routes a valid
// event into retry. Transient retry tasks are not cancelled; their later
// re-appends simply land in the events stream.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return
	}

	p.running.Store(false)
	p.cancel()
	p.wg.Wait()
	log.Println("[WorkerPool] Stopped")
}

// Running reports whether the pool is consuming.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Stats returns the pool's admin-facing counters.
func (p *Pool) Stats() Stats {
	processed := p.processedCount.Load()
	failed := p.failedCount.Load()

	var successRate float64
	if processed+failed > 0 {
		successRate = float64(processed) / float64(processed+failed)
	}

	return Stats{
		Running:        p.running.Load(),
		ProcessedCount: processed,
		FailedCount:    failed,
		DLQCount:       p.dlqCount.Load(),
		SuccessRate:    successRate,
	}
}

// dispatch owns the stream cursor. It starts at the tail (only entries
// appended after startup) and advances past every delivered entry, so
// nothing arriving between reads is lost.
//
// The cursor is pinned to a concrete entry id up front; reading from "$" on
// every iteration would drop entries that arrive between reads.
func (p *Pool) dispatch(ctx context.Context, entries chan<- stream.Entry, cursor string) {
	defer p.wg.Done()
	defer close(entries)

	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := p.log.ReadTail(ctx, stream.EventsStream, cursor, p.cfg.BlockTimeout, p.cfg.MaxBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WorkerPool] Tail read failed: %v", err)
			if !sleepCtx(ctx, errorSleep) {
				return
			}
			continue
		}

		if len(batch) == 0 {
			if !sleepCtx(ctx, idleSleep) {
				return
			}
			continue
		}

		for _, entry := range batch {
			cursor = entry.ID
			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			}
		}
	}
}

// resolveTail finds the id of the newest entry at startup, so consumption
// covers exactly the entries appended afterwards. An empty stream resolves
// to the zero id.
func (p *Pool) resolveTail(ctx context.Context) string {
	for {
		last, err := p.log.ReadRange(ctx, stream.EventsStream, "-", "+", true, 1)
		if err == nil {
			if len(last) == 0 {
				return "0-0"
			}
			return last[0].ID
		}
		if ctx.Err() != nil {
			return "0-0"
		}
		log.Printf("[WorkerPool] Failed to resolve stream tail: %v", err)
		if !sleepCtx(ctx, errorSleep) {
			return "0-0"
		}
	}
}

// work drains the dispatch channel until it closes, including the entries
// still buffered after the dispatcher shuts down.
func (p *Pool) work(workerID string, entries <-chan stream.Entry) {
	defer p.wg.Done()

	detector := anomaly.New(anomaly.DefaultWindowSize, anomaly.DefaultThreshold)
	log.Printf("[WorkerPool] %s started", workerID)

	for entry := range entries {
		p.processEntry(workerID, detector, entry)
	}
	log.Printf("[WorkerPool] %s stopped", workerID)
}

// processEntry runs the per-event pipeline. Failures are routed to the
// retry/DLQ path as values, never surfaced to the producer. The latency
// sample is recorded whether the attempt succeeded or failed.
func (p *Pool) processEntry(workerID string, detector *anomaly.Detector, entry stream.Entry) {
	start := p.collector.RecordProcessingStart()

	isAnomaly, zScore, processedAt, err := p.processOnce(workerID, detector, start, entry)
	if err != nil {
		p.collector.RecordProcessingEnd(start, false)
		log.Printf("[WorkerPool] %s failed to process %s: %v", workerID, entry.ID, err)
		p.handleFailure(entry, err)
		return
	}

	p.collector.RecordProcessingEnd(start, isAnomaly)
	p.processedCount.Add(1)

	if isAnomaly {
		value, _ := models.ParseValue(entry.Fields)
		log.Printf("[WorkerPool] %s detected anomaly: event=%s value=%g z=%.2f", workerID, entry.ID, value, zScore)
		go p.alerter.AnomalyAlert(entry.ID, value, zScore, processedAt)
	}
}

func (p *Pool) processOnce(workerID string, detector *anomaly.Detector, start time.Time, entry stream.Entry) (bool, float64, string, error) {
	if !models.HasRequiredFields(entry.Fields) {
		return false, 0, "", fmt.Errorf("invalid event format")
	}

	value, err := models.ParseValue(entry.Fields)
	if err != nil {
		return false, 0, "", err
	}

	isAnomaly, zScore := detector.Detect(value)

	processedAt := models.FormatTime(time.Now())
	processed := models.CopyFields(entry.Fields)
	processed[models.FieldProcessedAt] = processedAt
	processed[models.FieldWorkerID] = workerID
	processed[models.FieldAnomalyDetected] = models.FormatBool(isAnomaly)
	processed[models.FieldZScore] = models.FormatValue(zScore)
	processed[models.FieldProcessingTime] = models.FormatValue(time.Since(start).Seconds())

	// Detached from the pool lifecycle context: an entry that was already
	// dispatched must finish its append during shutdown instead of failing
	// with a cancellation and taking the retry path.
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if _, err := p.log.Append(ctx, stream.ProcessedStream, processed, stream.ProcessedMaxLen); err != nil {
		return false, 0, "", fmt.Errorf("processed append failed: %w", err)
	}

	return isAnomaly, zScore, processedAt, nil
}

// updateMetrics publishes throughput, P95 latency and uptime every interval,
// and raises backpressure warnings on active-but-slow intervals.
func (p *Pool) updateMetrics(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	lastCount := p.processedCount.Load()
	lastTime := time.Now()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			count := p.processedCount.Load()

			elapsed := now.Sub(lastTime).Seconds()
			delta := count - lastCount

			var throughput float64
			if elapsed > 0 {
				throughput = float64(delta) / elapsed
			}
			p.collector.UpdateThroughput(throughput)
			p.collector.UpdateLatencyP95()
			p.collector.UpdateUptime()

			// Idle intervals are not slow intervals; warn only when events
			// actually moved.
			if delta > 0 {
				p.alerter.ThroughputWarning(throughput)
			}

			lastCount = count
			lastTime = now

		case <-ctx.Done():
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
