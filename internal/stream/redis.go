package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog implements Log on top of Redis Streams.
type RedisLog struct {
	client *redis.Client
}

// NewRedisLog wraps an existing Redis client.
func NewRedisLog(client *redis.Client) *RedisLog {
	return &RedisLog{client: client}
}

// Connect dials the log service at the given redis:// URL and verifies the
// connection. A failure here is fatal to startup.
func Connect(ctx context.Context, url string) (*RedisLog, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid log service URL %q: %w", url, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to log service at %s: %w", url, err)
	}

	return &RedisLog{client: client}, nil
}

// Close releases the underlying connection pool.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

func (l *RedisLog) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	id, err := l.client.XAdd(ctx, xaddArgs(stream, fields, maxLen)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", stream, err)
	}
	return id, nil
}

func (l *RedisLog) AppendBatch(ctx context.Context, stream string, batch []map[string]string, maxLen int64) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	pipe := l.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(batch))
	for _, fields := range batch {
		cmds = append(cmds, pipe.XAdd(ctx, xaddArgs(stream, fields, maxLen)))
	}

	// Exec returns the first error, but individual commands may still have
	// succeeded; report per-position results so callers can attribute partial
	// ingestion to the right entries.
	_, execErr := pipe.Exec(ctx)

	ids := make([]string, len(cmds))
	appended := 0
	for i, cmd := range cmds {
		if id, err := cmd.Result(); err == nil && id != "" {
			ids[i] = id
			appended++
		}
	}

	if execErr != nil && appended == 0 {
		return nil, fmt.Errorf("failed to append batch to %s: %w", stream, execErr)
	}
	return ids, nil
}

func (l *RedisLog) ReadTail(ctx context.Context, stream, fromID string, block time.Duration, count int64) ([]Entry, error) {
	res, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, fromID},
		Block:   block,
		Count:   count,
	}).Result()
	if err != nil {
		// A nil reply means the block timeout expired with nothing new.
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tail of %s: %w", stream, err)
	}

	var entries []Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

func (l *RedisLog) ReadRange(ctx context.Context, stream, min, max string, reverse bool, count int64) ([]Entry, error) {
	var msgs []redis.XMessage
	var err error
	switch {
	case reverse && count > 0:
		msgs, err = l.client.XRevRangeN(ctx, stream, max, min, count).Result()
	case reverse:
		msgs, err = l.client.XRevRange(ctx, stream, max, min).Result()
	case count > 0:
		msgs, err = l.client.XRangeN(ctx, stream, min, max, count).Result()
	default:
		msgs, err = l.client.XRange(ctx, stream, min, max).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read range of %s: %w", stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(msg))
	}
	return entries, nil
}

func (l *RedisLog) Delete(ctx context.Context, stream, id string) (bool, error) {
	n, err := l.client.XDel(ctx, stream, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s from %s: %w", id, stream, err)
	}
	return n > 0, nil
}

// StreamInfo is composed from primitive commands rather than XINFO STREAM so
// it behaves identically against embedded test servers.
func (l *RedisLog) StreamInfo(ctx context.Context, stream string) (*Info, error) {
	length, err := l.client.XLen(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get length of %s: %w", stream, err)
	}

	info := &Info{Length: length}

	if first, err := l.ReadRange(ctx, stream, "-", "+", false, 1); err == nil && len(first) > 0 {
		info.FirstEntry = &first[0]
	}
	if last, err := l.ReadRange(ctx, stream, "-", "+", true, 1); err == nil && len(last) > 0 {
		info.LastEntry = &last[0]
	}

	// Consumer groups are optional on the log service; absence reads as zero.
	if groups, err := l.client.XInfoGroups(ctx, stream).Result(); err == nil {
		info.Groups = int64(len(groups))
	}

	return info, nil
}

func xaddArgs(stream string, fields map[string]string, maxLen int64) *redis.XAddArgs {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Values: values,
	}
}

func toEntry(msg redis.XMessage) Entry {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		fields[k] = fmt.Sprint(v)
	}
	return Entry{ID: msg.ID, Fields: fields}
}
