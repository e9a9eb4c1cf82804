package stream

import (
	"context"
	"time"
)

// Stream names on the external log service.
const (
	EventsStream    = "events:stream"
	ProcessedStream = "processed:stream"
	DLQStream       = "dlq:stream"
)

// Maximum stream lengths. The log evicts oldest entries beyond these caps.
const (
	EventsMaxLen    = 1_000_000
	ProcessedMaxLen = 1_000_000
	DLQMaxLen       = 100_000
)

// Entry is one immutable log entry. The ID is assigned by the log service
// and is monotonically ordered within a stream.
type Entry struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Info summarizes a stream for health reporting.
type Info struct {
	Length     int64
	Groups     int64
	FirstEntry *Entry
	LastEntry  *Entry
}

// Log abstracts the append-only log service. It is the only seam through
// which the pipeline touches the log; every other component is parameterized
// by it so tests can run against an embedded server.
type Log interface {
	// Append writes one entry, evicting oldest entries to keep the stream at
	// most maxLen long. Returns the assigned entry id.
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)

	// AppendBatch pipelines several appends to the same stream. The returned
	// slice is aligned with batch: position i holds the id assigned to
	// batch[i], or the empty string if that append failed. Partial success is
	// possible.
	AppendBatch(ctx context.Context, stream string, batch []map[string]string, maxLen int64) ([]string, error)

	// ReadTail returns entries with ids greater than fromID, blocking up to
	// block for at least one entry. Returns an empty slice on timeout.
	ReadTail(ctx context.Context, stream, fromID string, block time.Duration, count int64) ([]Entry, error)

	// ReadRange returns up to count entries between min and max inclusive.
	// With reverse set, entries come back newest first.
	ReadRange(ctx context.Context, stream, min, max string, reverse bool, count int64) ([]Entry, error)

	// Delete removes one entry by id, reporting whether it existed.
	Delete(ctx context.Context, stream, id string) (bool, error)

	// StreamInfo summarizes a stream for health reporting.
	StreamInfo(ctx context.Context, stream string) (*Info, error)
}
