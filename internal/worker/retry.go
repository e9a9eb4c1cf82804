package worker

import (
	"context"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/streampulse-analytics-platform/internal/models"
	"github.com/streampulse-analytics-platform/internal/stream"
)

// appendTimeout bounds the log appends issued by retry tasks and DLQ
// promotion, which run outside the pool's lifecycle context.
const appendTimeout = 5 * time.Second

// handleFailure routes a failed entry to retry or the DLQ.
//
// The retry counter on the entry's fields is incremented, the error and
// failure time stamped, and the modified fields either re-appended to the
// events stream after an exponential backoff delay or promoted to the DLQ
// once the retry budget is spent.
func (p *Pool) handleFailure(entry stream.Entry, cause error) {
	p.failedCount.Add(1)

	fields := models.CopyFields(entry.Fields)
	retryCount := models.RetryCount(fields) + 1
	fields[models.FieldRetryCount] = strconv.Itoa(retryCount)
	fields[models.FieldLastError] = cause.Error()
	fields[models.FieldFailedAt] = models.FormatTime(time.Now())

	if retryCount > p.cfg.MaxRetries {
		p.sendToDLQ(entry.ID, fields, cause.Error())
		return
	}

	delay := time.Duration(math.Pow(p.cfg.BackoffBase, float64(retryCount)) * float64(time.Second))
	log.Printf("[WorkerPool] Retry %d/%d scheduled for %s in %s: %v",
		retryCount, p.cfg.MaxRetries, entry.ID, delay, cause)

	// Transient task: sleeps then re-appends without blocking the worker
	// that observed the failure. It is deliberately not cancelled on pool
	// stop; a late re-append just sits in the events stream.
	go p.retryLater(entry.ID, fields, delay)
}

func (p *Pool) retryLater(originalID string, fields map[string]string, delay time.Duration) {
	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if _, err := p.log.Append(ctx, stream.EventsStream, fields, stream.EventsMaxLen); err != nil {
		log.Printf("[WorkerPool] Retry re-append failed for %s: %v", originalID, err)
		p.sendToDLQ(originalID, fields, err.Error())
		return
	}

	log.Printf("[WorkerPool] Event %s re-appended for retry %s", originalID, fields[models.FieldRetryCount])
}

// sendToDLQ promotes an exhausted event to the dead letter stream.
func (p *Pool) sendToDLQ(originalID string, fields map[string]string, reason string) {
	if !p.cfg.DLQEnabled {
		log.Printf("[WorkerPool] DLQ disabled, dropping event %s: %s", originalID, reason)
		return
	}

	finalRetries := fields[models.FieldRetryCount]
	if finalRetries == "" {
		finalRetries = "0"
	}

	dlqFields := models.CopyFields(fields)
	dlqFields[models.FieldOriginalEventID] = originalID
	dlqFields[models.FieldDLQReason] = reason
	dlqFields[models.FieldDLQTimestamp] = models.FormatTime(time.Now())
	dlqFields[models.FieldFinalRetryCount] = finalRetries

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if _, err := p.log.Append(ctx, stream.DLQStream, dlqFields, stream.DLQMaxLen); err != nil {
		log.Printf("[WorkerPool] DLQ append failed for %s: %v", originalID, err)
		return
	}

	p.dlqCount.Add(1)
	p.collector.RecordDLQ()
	log.Printf("[WorkerPool] Event %s sent to DLQ after %s retries: %s", originalID, finalRetries, reason)
}
