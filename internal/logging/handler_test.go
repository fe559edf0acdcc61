package logging

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_LogBuffersUntilFlush(t *testing.T) {
	h := NewHandler(nil, "worker-1")

	assert.Equal(t, 0, h.Len())
	h.Log("info", "hello", nil, nil)
	h.Log("error", "boom", nil, map[string]interface{}{"job_id": "abc"})
	assert.Equal(t, 2, h.Len())
}

func TestHandler_SynchronousFlushShipsAndDrains(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := NewHandler(client, "worker-1")

	jobID := "job-42"
	h.Log("info", "started", &jobID, nil)
	h.Log("warn", "slow backend", &jobID, map[string]interface{}{"elapsed_ms": 1200})

	require.NoError(t, h.Flush(context.Background(), 1))
	assert.Equal(t, 0, h.Len(), "flush drains the buffer")

	n, err := client.XLen(context.Background(), logStreamName).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := client.XRange(context.Background(), logStreamName, "-", "+").Result()
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Values["data"], "worker-1")
	assert.Contains(t, msgs[0].Values["data"], "job-42")
}

func TestHandler_FlushEmptyBufferIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := NewHandler(client, "worker-1")

	require.NoError(t, h.Flush(context.Background(), 1))

	n, err := client.XLen(context.Background(), logStreamName).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
