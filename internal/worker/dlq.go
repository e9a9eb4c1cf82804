package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/streampulse-analytics-platform/internal/stream"
)

// DefaultDLQListLimit caps DLQ listings when no limit is given.
const DefaultDLQListLimit = 100

// retryMetadataPrefixes are the field-name prefixes stripped when a DLQ
// event is re-queued, so the cleaned copy re-enters the pipeline with a
// fresh retry budget.
var retryMetadataPrefixes = []string{"retry_count", "last_error", "failed_at", "dlq_"}

// DLQEvents returns the newest entries in the dead letter stream, newest
// first, for operational inspection.
func (p *Pool) DLQEvents(ctx context.Context, limit int) ([]stream.Entry, error) {
	if limit <= 0 || limit > DefaultDLQListLimit {
		limit = DefaultDLQListLimit
	}

	entries, err := p.log.ReadRange(ctx, stream.DLQStream, "-", "+", true, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ events: %w", err)
	}
	return entries, nil
}

// RetryDLQEvent re-queues one DLQ entry by id: the retry and DLQ metadata is
// stripped, the cleaned copy appended to the events stream, and the DLQ
// entry deleted. Returns false when the id is not in the DLQ.
//
// The append and delete are separate log operations; a crash in between can
// leave a duplicate, which the at-least-once contract tolerates.
func (p *Pool) RetryDLQEvent(ctx context.Context, entryID string) (bool, error) {
	entries, err := p.log.ReadRange(ctx, stream.DLQStream, entryID, entryID, false, 1)
	if err != nil {
		return false, fmt.Errorf("failed to look up DLQ event %s: %w", entryID, err)
	}
	if len(entries) == 0 {
		return false, nil
	}

	cleaned := make(map[string]string, len(entries[0].Fields))
	for key, value := range entries[0].Fields {
		if hasRetryMetadataPrefix(key) {
			continue
		}
		cleaned[key] = value
	}

	if _, err := p.log.Append(ctx, stream.EventsStream, cleaned, stream.EventsMaxLen); err != nil {
		return false, fmt.Errorf("failed to re-queue DLQ event %s: %w", entryID, err)
	}

	if _, err := p.log.Delete(ctx, stream.DLQStream, entryID); err != nil {
		return false, fmt.Errorf("failed to delete DLQ event %s: %w", entryID, err)
	}

	return true, nil
}

func hasRetryMetadataPrefix(key string) bool {
	for _, prefix := range retryMetadataPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
