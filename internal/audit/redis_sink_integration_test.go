package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestRedisSinkAgainstContainerizedRedis exercises RedisSink against a real
// Redis server instead of miniredis, catching protocol-compatibility gaps
// miniredis's reimplementation could paper over. Gated behind
// TORRENTIAL_INTEGRATION=1 like the S3 backend's MinIO test.
func TestRedisSinkAgainstContainerizedRedis(t *testing.T) {
	if os.Getenv("TORRENTIAL_INTEGRATION") != "1" {
		t.Skip("set TORRENTIAL_INTEGRATION=1 to run against a containerized Redis")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	defer container.Terminate(ctx)

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr[len("redis://"):]})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	sink, err := NewRedisSink(addr[len("redis://"):], "torrential:audit:integration", 50)
	require.NoError(t, err)
	defer sink.Close()

	event := &AuditEvent{
		Timestamp: time.Now(),
		Operation: "chunk_serve",
		Bucket:    "g1",
		Key:       "c1",
		RequestID: "integration-req-1",
		Success:   true,
	}
	require.NoError(t, sink.WriteEvent(event))

	n, err := client.LLen(ctx, "torrential:audit:integration").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
