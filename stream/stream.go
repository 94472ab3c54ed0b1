package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a single record read from a stream.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Log defines the durable append-only log operations the bridge needs.
// Streams are capped at an approximate max length; the oldest entries are
// trimmed by the broker. Block reads are always bounded by the given timeout
// and return an empty slice when nothing arrived in time.
type Log interface {
	// Push appends an entry and returns its id. A maxLen <= 0 leaves the
	// stream uncapped.
	Push(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)
	// ReadFrom returns entries with ids strictly greater than cursor.
	// Cursor "0-0" reads from the beginning. Non-destructive fan-out read.
	ReadFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, error)
	// ReadRange returns entries with minID <= id <= maxID, oldest first.
	ReadRange(ctx context.Context, stream, minID, maxID string, count int64) ([]Entry, error)
	// ReadNewest returns up to count entries, newest first.
	ReadNewest(ctx context.Context, stream string, count int64) ([]Entry, error)
	// CreateGroup creates a consumer group reading new entries. Creating a
	// group that already exists is a no-op, not an error.
	CreateGroup(ctx context.Context, stream, group string) error
	// ReadGroup delivers not-yet-delivered entries to the named consumer
	// within the group. Each entry is delivered to exactly one group member
	// until acknowledged.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)
	// Ack marks an entry as processed for the group.
	Ack(ctx context.Context, stream, group, entryID string) error
	// AutoClaim transfers entries pending longer than minIdle to the named
	// consumer so they re-enter delivery after their original claimant died.
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error)
	// Trim re-asserts the approximate max length cap on a stream and returns
	// the number of entries removed.
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)
	// Len returns the current number of entries in a stream.
	Len(ctx context.Context, stream string) (int64, error)
	// Ping reports broker reachability.
	Ping(ctx context.Context) error
}

// RedisLog implements Log on Redis Streams.
type RedisLog struct {
	client redis.UniversalClient
}

// NewRedisLog wraps an existing Redis client. The client is shared; RedisLog
// never closes it.
func NewRedisLog(client redis.UniversalClient) *RedisLog {
	return &RedisLog{client: client}
}

func (l *RedisLog) Push(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

func (l *RedisLog) ReadFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		// Negative blocks mean "do not block" in go-redis; zero would block
		// forever, which the bridge never wants.
		block = -1
	}
	res, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s from %s: %w", stream, cursor, err)
	}
	var entries []Entry
	for _, s := range res {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

func (l *RedisLog) ReadRange(ctx context.Context, stream, minID, maxID string, count int64) ([]Entry, error) {
	msgs, err := l.client.XRangeN(ctx, stream, minID, maxID, count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range-read stream %s: %w", stream, err)
	}
	return toEntries(msgs), nil
}

func (l *RedisLog) ReadNewest(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := l.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read newest entries of stream %s: %w", stream, err)
	}
	return toEntries(msgs), nil
}

func (l *RedisLog) CreateGroup(ctx context.Context, stream, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s on stream %s: %w", group, stream, err)
	}
	return nil
}

func (l *RedisLog) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		block = -1
	}
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s as group %s: %w", stream, group, err)
	}
	var entries []Entry
	for _, s := range res {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

func (l *RedisLog) Ack(ctx context.Context, stream, group, entryID string) error {
	if err := l.client.XAck(ctx, stream, group, entryID).Err(); err != nil {
		return fmt.Errorf("failed to ack %s on stream %s: %w", entryID, stream, err)
	}
	return nil
}

func (l *RedisLog) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to autoclaim pending entries on stream %s: %w", stream, err)
	}
	return toEntries(msgs), nil
}

func (l *RedisLog) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	removed, err := l.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim stream %s: %w", stream, err)
	}
	return removed, nil
}

func (l *RedisLog) Len(ctx context.Context, stream string) (int64, error) {
	n, err := l.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of stream %s: %w", stream, err)
	}
	return n, nil
}

func (l *RedisLog) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	return nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprint(v)
			}
			fields[k] = s
		}
		entries = append(entries, Entry{ID: m.ID, Fields: fields})
	}
	return entries
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
