package streams

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventLogStream = "webhook:processed"

	// eventLogMaxLen caps the audit trail; older entries are trimmed.
	eventLogMaxLen = 1000

	tailBlock      = 5 * time.Second
	tailBatchCount = 50
)

// Entry is one processed webhook event in the audit trail.
type Entry struct {
	ID             string    `json:"id"`
	CorrelationID  string    `json:"correlation_id"`
	EventType      string    `json:"event_type"`
	ConversationID string    `json:"conversation_id"`
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// EventLog records the outcome of every processed webhook event in a capped
// Redis stream so operators can audit what the relay did and why.
type EventLog struct {
	client *redis.Client
}

// NewEventLog creates an audit trail backed by the given Redis client.
func NewEventLog(client *redis.Client) *EventLog {
	return &EventLog{client: client}
}

// Append records one processed event. Failures here are logged by callers but
// never fail the webhook acknowledgment.
func (l *EventLog) Append(ctx context.Context, entry Entry) (string, error) {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventLogStream,
		MaxLen: eventLogMaxLen,
		Approx: true,
		Values: map[string]any{
			"correlation_id":  entry.CorrelationID,
			"event_type":      entry.EventType,
			"conversation_id": entry.ConversationID,
			"outcome":         entry.Outcome,
			"detail":          entry.Detail,
			"recorded_at":     strconv.FormatInt(entry.RecordedAt.UnixMilli(), 10),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("event log: XADD failed: %w", err)
	}

	return id, nil
}

// Recent returns up to count entries, newest first.
func (l *EventLog) Recent(ctx context.Context, count int64) ([]Entry, error) {
	if count <= 0 {
		count = 50
	}

	messages, err := l.client.XRevRangeN(ctx, eventLogStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("event log: XREVRANGE failed: %w", err)
	}

	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, entryFromValues(msg.ID, msg.Values))
	}
	return entries, nil
}

// Tail blocks for entries appended after afterID and returns them with the
// latest ID observed. An empty afterID starts at the stream tail. A timeout
// with no new entries returns an empty slice, not an error.
func (l *EventLog) Tail(ctx context.Context, afterID string) ([]Entry, string, error) {
	if afterID == "" {
		afterID = "$"
	}

	res, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{eventLogStream, afterID},
		Count:   tailBatchCount,
		Block:   tailBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, afterID, nil
		}
		return nil, afterID, err
	}

	entries := make([]Entry, 0)
	nextID := afterID
	for _, stream := range res {
		for _, msg := range stream.Messages {
			entries = append(entries, entryFromValues(msg.ID, msg.Values))
			nextID = msg.ID
		}
	}
	return entries, nextID, nil
}

// Length returns the current size of the audit trail.
func (l *EventLog) Length(ctx context.Context) (int64, error) {
	return l.client.XLen(ctx, eventLogStream).Result()
}

func entryFromValues(id string, values map[string]any) Entry {
	entry := Entry{
		ID:             id,
		CorrelationID:  stringValue(values, "correlation_id"),
		EventType:      stringValue(values, "event_type"),
		ConversationID: stringValue(values, "conversation_id"),
		Outcome:        stringValue(values, "outcome"),
		Detail:         stringValue(values, "detail"),
	}

	if raw := stringValue(values, "recorded_at"); raw != "" {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			entry.RecordedAt = time.UnixMilli(millis).UTC()
		}
	}

	return entry
}

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
