package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDedupeTTL = 10 * time.Minute

// RedisSink writes audit events to a capped Redis list, de-duplicating
// across depot processes that might emit the same logical event (e.g. a
// retried chunk request) using a short-lived SETNX marker keyed by the
// event's content hash.
type RedisSink struct {
	client   *redis.Client
	listKey  string
	maxItems int
}

// NewRedisSink dials addr and returns a sink that LPUSHes onto listKey
// (defaulting to "torrential:audit:events" when empty), trimming the list
// to maxItems on every write.
func NewRedisSink(addr, listKey string, maxItems int) (*RedisSink, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis audit sink: redis_addr is required")
	}
	if listKey == "" {
		listKey = "torrential:audit:events"
	}
	if maxItems <= 0 {
		maxItems = 10_000
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis audit sink: pinging %s: %w", addr, err)
	}

	return &RedisSink{client: client, listKey: listKey, maxItems: maxItems}, nil
}

// WriteEvent implements EventWriter. Duplicate events observed within
// redisDedupeTTL of one another are silently dropped after the first.
func (s *RedisSink) WriteEvent(event *AuditEvent) error {
	ctx := context.Background()

	dedupeKey := "torrential:audit:seen:" + contentHash(event)
	first, err := s.client.SetNX(ctx, dedupeKey, 1, redisDedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("redis audit sink: dedupe check: %w", err)
	}
	if !first {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis audit sink: marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.listKey, data)
	pipe.LTrim(ctx, s.listKey, 0, int64(s.maxItems-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis audit sink: writing event: %w", err)
	}
	return nil
}

// WriteBatch implements BatchWriter.
func (s *RedisSink) WriteBatch(events []*AuditEvent) error {
	for _, event := range events {
		if err := s.WriteEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func contentHash(event *AuditEvent) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", event.Operation, event.Bucket, event.Key, event.RequestID, event.Timestamp.Unix())))
	return hex.EncodeToString(sum[:])
}
