package audit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	sink, err := NewRedisSink(mr.Addr(), "", 100)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	return sink, mr
}

func TestRedisSinkWritesEventOntoList(t *testing.T) {
	sink, mr := newTestRedisSink(t)

	event := &AuditEvent{
		Timestamp: time.Now(),
		Operation: "chunk_serve",
		Bucket:    "g1",
		Key:       "c1",
		RequestID: "req-1",
		Success:   true,
	}

	require.NoError(t, sink.WriteEvent(event))

	items, err := mr.List("torrential:audit:events")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRedisSinkDeduplicatesIdenticalEventsWithinWindow(t *testing.T) {
	sink, mr := newTestRedisSink(t)

	event := &AuditEvent{
		Timestamp: time.Now(),
		Operation: "chunk_serve",
		Bucket:    "g1",
		Key:       "c1",
		RequestID: "req-dup",
		Success:   true,
	}

	require.NoError(t, sink.WriteEvent(event))
	require.NoError(t, sink.WriteEvent(event))

	items, err := mr.List("torrential:audit:events")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRedisSinkTrimsListToMaxItems(t *testing.T) {
	mr := miniredis.RunT(t)
	sink, err := NewRedisSink(mr.Addr(), "torrential:audit:events", 2)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	for i := 0; i < 5; i++ {
		event := &AuditEvent{
			Timestamp: time.Now(),
			Operation: "chunk_serve",
			Bucket:    "g1",
			Key:       "c1",
			RequestID: time.Now().Format(time.RFC3339Nano),
			Success:   true,
		}
		require.NoError(t, sink.WriteEvent(event))
	}

	items, err := mr.List("torrential:audit:events")
	require.NoError(t, err)
	require.Len(t, items, 2)
}
