package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Field names used on the log boundary. The log service is schema-less, so
// every entry is a string-to-string map keyed by these names.
const (
	FieldTimestamp = "timestamp"
	FieldType      = "type"
	FieldValue     = "value"

	FieldIngestedAt = "ingested_at"
	FieldProcessed  = "processed"

	FieldProcessedAt     = "processed_at"
	FieldWorkerID        = "worker_id"
	FieldAnomalyDetected = "anomaly_detected"
	FieldZScore          = "z_score"
	FieldProcessingTime  = "processing_time"

	FieldRetryCount = "retry_count"
	FieldLastError  = "last_error"
	FieldFailedAt   = "failed_at"

	FieldOriginalEventID = "original_event_id"
	FieldDLQReason       = "dlq_reason"
	FieldDLQTimestamp    = "dlq_timestamp"
	FieldFinalRetryCount = "final_retry_count"

	// MetadataPrefix namespaces client-supplied metadata attributes so they
	// cannot collide with pipeline-owned fields.
	MetadataPrefix = "meta_"
)

// Event is a single ingress event. Metadata is free-form and carried through
// the pipeline untouched.
type Event struct {
	Timestamp string            `json:"timestamp"`
	Type      string            `json:"type"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the event carries all required attributes.
//
// The value must be a finite real number; NaN and infinities are rejected
// because they cannot round-trip through the log's decimal string encoding.
func (e *Event) Validate() error {
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return fmt.Errorf("value must be a finite number")
	}
	return nil
}

// Enrich converts the event to its log-boundary field map and stamps the
// ingestion metadata. The resulting entry is what lands in the events stream.
func (e *Event) Enrich(now time.Time) map[string]string {
	fields := map[string]string{
		FieldTimestamp:  e.Timestamp,
		FieldType:       e.Type,
		FieldValue:      FormatValue(e.Value),
		FieldIngestedAt: FormatTime(now),
		FieldProcessed:  "false",
	}
	for k, v := range e.Metadata {
		fields[MetadataPrefix+k] = v
	}
	return fields
}

// HasRequiredFields reports whether a log entry still carries the attributes
// every event must have. Entries can lose fields only through external
// tampering, but workers re-check before processing.
func HasRequiredFields(fields map[string]string) bool {
	for _, key := range []string{FieldTimestamp, FieldType, FieldValue} {
		if _, ok := fields[key]; !ok {
			return false
		}
	}
	return true
}

// ParseValue extracts the numeric value from a log entry.
func ParseValue(fields map[string]string) (float64, error) {
	raw, ok := fields[FieldValue]
	if !ok {
		return 0, fmt.Errorf("value field missing")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric: %w", raw, err)
	}
	return v, nil
}

// RetryCount extracts the retry counter from a log entry, defaulting to zero
// for entries that have never failed.
func RetryCount(fields map[string]string) int {
	raw, ok := fields[FieldRetryCount]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatValue renders a numeric value as the decimal string form used on the
// log boundary.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatBool renders a boolean as the "true"/"false" form used on the log
// boundary.
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}

// FormatTime renders a timestamp as ISO-8601 UTC with a Z suffix.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CopyFields returns a shallow copy of a log entry's field map so callers can
// extend it without mutating the original.
func CopyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
