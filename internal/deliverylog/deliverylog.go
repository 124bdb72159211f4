// Package deliverylog implements the append-only, consumer-group log
// abstraction over Redis Streams: append, read-new, read-pending, claim,
// acknowledge, length and pending-summary. Two logical streams are used
// by the rest of the system: "delivery" (fan-out jobs) and "dead-letter"
// (terminal sink for jobs that exceeded max attempts).
package deliverylog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DeliveryStreamKey   = "stream:delivery"
	DeadLetterStreamKey = "stream:dead-letter"
	ConsumerGroup       = "delivery-workers"
)

// Entry is one log record: an opaque payload plus the stream-assigned id.
// Pending reads return PendingEntry, which adds how long it has sat
// unacknowledged.
type Entry struct {
	ID      string
	Payload []byte
}

// PendingEntry additionally carries the consumer that currently owns it
// and how long it has been idle.
type PendingEntry struct {
	Entry
	Consumer string
	Idle     time.Duration
	// RetryCount is Redis's own per-entry delivery counter (XPENDING's
	// "times delivered"); the worker uses it as the attempts count since
	// stream entries are immutable and cannot carry a mutated counter.
	RetryCount int64
}

type PendingSummary struct {
	Count     int64
	LowestID  string
	HighestID string
}

// Log wraps a *redis.Client with the stream primitives. It does not know
// about DeliveryJob shapes; callers marshal/unmarshal payloads.
type Log struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Log {
	return &Log{rdb: rdb}
}

// EnsureGroup creates the consumer group for stream, starting from the
// beginning of history, if it does not already exist. Safe to call
// repeatedly.
func (l *Log) EnsureGroup(ctx context.Context, stream string) error {
	err := l.rdb.XGroupCreateMkStream(ctx, stream, ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("deliverylog: ensure group on %s: %w", stream, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Append adds payload to stream, returning the assigned entry id.
func (l *Log) Append(ctx context.Context, stream string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("deliverylog: marshal payload: %w", err)
	}
	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": b},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("deliverylog: append to %s: %w", stream, err)
	}
	return id, nil
}

// ReadNew performs a blocking read of up to batchSize entries that have
// never been delivered to any consumer in the group (position ">").
func (l *Log) ReadNew(ctx context.Context, stream, consumer string, batchSize int64, block time.Duration) ([]Entry, error) {
	res, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    batchSize,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deliverylog: read-new from %s: %w", stream, err)
	}
	return entriesFrom(res), nil
}

// ReadPending lists entries currently owned by some consumer but not yet
// acknowledged, whose idle time is at least minIdle.
func (l *Log) ReadPending(ctx context.Context, stream string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	res, err := l.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  ConsumerGroup,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("deliverylog: read-pending from %s: %w", stream, err)
	}

	var out []PendingEntry
	for _, p := range res {
		out = append(out, PendingEntry{
			Entry:      Entry{ID: p.ID},
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			RetryCount: p.RetryCount,
		})
	}
	return out, nil
}

// Claim transfers ownership of the given ids to newConsumer, resetting
// their idle clock to zero, provided their current idle time is at least
// minIdle. Returns the claimed entries with their payloads.
func (l *Log) Claim(ctx context.Context, stream, newConsumer string, minIdle time.Duration, ids ...string) ([]Entry, error) {
	msgs, err := l.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    ConsumerGroup,
		Consumer: newConsumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("deliverylog: claim on %s: %w", stream, err)
	}
	return entriesFromMessages(msgs), nil
}

// Acknowledge removes ids from the pending list for stream.
func (l *Log) Acknowledge(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.rdb.XAck(ctx, stream, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("deliverylog: ack on %s: %w", stream, err)
	}
	return nil
}

// Length returns the total entry count of stream (acknowledged and
// unacknowledged).
func (l *Log) Length(ctx context.Context, stream string) (int64, error) {
	n, err := l.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("deliverylog: length of %s: %w", stream, err)
	}
	return n, nil
}

// PendingSummary returns the overall pending-entry count and id range for
// stream's consumer group.
func (l *Log) PendingSummary(ctx context.Context, stream string) (PendingSummary, error) {
	res, err := l.rdb.XPending(ctx, stream, ConsumerGroup).Result()
	if err != nil {
		return PendingSummary{}, fmt.Errorf("deliverylog: pending-summary of %s: %w", stream, err)
	}
	return PendingSummary{Count: res.Count, LowestID: res.Lower, HighestID: res.Higher}, nil
}

func entriesFrom(streams []redis.XStream) []Entry {
	var out []Entry
	for _, s := range streams {
		out = append(out, entriesFromMessages(s.Messages)...)
	}
	return out
}

func entriesFromMessages(msgs []redis.XMessage) []Entry {
	var out []Entry
	for _, m := range msgs {
		raw, _ := m.Values["payload"].(string)
		out = append(out, Entry{ID: m.ID, Payload: []byte(raw)})
	}
	return out
}
