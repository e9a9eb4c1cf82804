package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/streampulse-analytics-platform/internal/metrics"
	"github.com/streampulse-analytics-platform/internal/models"
	"github.com/streampulse-analytics-platform/internal/stream"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured maximum.
// The whole batch is rejected before any appends.
var ErrBatchTooLarge = errors.New("batch size exceeds maximum")

// Ingestor validates, enriches, and appends batches of events to the events
// stream.
type Ingestor struct {
	log       stream.Log
	collector *metrics.Collector
	maxBatch  int
}

// NewIngestor creates an ingestor appending through the given log client.
func NewIngestor(logClient stream.Log, collector *metrics.Collector, maxBatchSize int) *Ingestor {
	return &Ingestor{
		log:       logClient,
		collector: collector,
		maxBatch:  maxBatchSize,
	}
}

// IngestBatch ingests a batch of events and returns the number successfully
// appended.
//
// Oversize batches fail as a whole with ErrBatchTooLarge. Individual invalid
// events are skipped and logged without failing the batch. Appends are
// pipelined; atomicity across the batch is not promised, so partial
// ingestion is a valid outcome under log failure.
func (i *Ingestor) IngestBatch(ctx context.Context, events []models.Event) (int, error) {
	start := time.Now()

	if len(events) > i.maxBatch {
		return 0, fmt.Errorf("%w of %d events", ErrBatchTooLarge, i.maxBatch)
	}

	now := time.Now()
	enriched := make([]map[string]string, 0, len(events))
	types := make([]string, 0, len(events))
	for idx := range events {
		event := &events[idx]
		if err := event.Validate(); err != nil {
			log.Printf("[Ingestor] Skipping invalid event (type=%q): %v", event.Type, err)
			continue
		}
		enriched = append(enriched, event.Enrich(now))
		types = append(types, event.Type)
	}

	if len(enriched) == 0 {
		i.collector.RecordIngestion(time.Since(start), 0)
		return 0, nil
	}

	ids, err := i.log.AppendBatch(ctx, stream.EventsStream, enriched, stream.EventsMaxLen)
	if err != nil {
		i.collector.RecordIngestion(time.Since(start), 0)
		return 0, fmt.Errorf("batch append failed: %w", err)
	}

	// ids is positionally aligned with enriched; count each type only when
	// its own append succeeded.
	appended := 0
	for idx, id := range ids {
		if id == "" {
			continue
		}
		appended++
		i.collector.RecordIngestedType(types[idx])
	}
	i.collector.RecordIngestion(time.Since(start), appended)

	return appended, nil
}
