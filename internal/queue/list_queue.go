// Package queue implements the Queue Adapter: a thin wrapper over
// Redis lists providing a destructive, no-acknowledgement pop/push
// contract over arbitrary named queues, ordering work by queue-name
// priority rather than a fixed priority scheme.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queueworks/taskqueue/internal/config"
	"github.com/queueworks/taskqueue/internal/metrics"
)

const queueKeyPrefix = "queue:"

// ListQueue is the Redis-list backed Queue Adapter.
type ListQueue struct {
	client       *redis.Client
	keyPrefix    string
	blockTimeout time.Duration
}

// NewListQueue creates the adapter and verifies connectivity.
func NewListQueue(cfg *config.RedisConfig, keyPrefix string, blockTimeout time.Duration) (*ListQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = queueKeyPrefix
	}

	return &ListQueue{client: client, keyPrefix: keyPrefix, blockTimeout: blockTimeout}, nil
}

func (q *ListQueue) key(queue string) string {
	return q.keyPrefix + queue
}

func (q *ListQueue) Client() *redis.Client { return q.client }
func (q *ListQueue) Close() error          { return q.client.Close() }

// BlockingPop waits indefinitely (Redis BLPOP timeout 0) until one of
// the named queues yields a job ID, returning the queue it came from.
// Across queues, BLPOP's own left-to-right key priority governs which
// queue is served first when more than one has work.
func (q *ListQueue) BlockingPop(ctx context.Context, queues []string) (queue, jobID string, err error) {
	keys := make([]string, 0, len(queues))
	for _, name := range queues {
		if name == "" {
			continue
		}
		keys = append(keys, q.key(name))
	}
	if len(keys) == 0 {
		return "", "", fmt.Errorf("blocking pop: no queues configured")
	}

	start := time.Now()
	result, err := q.client.BLPop(ctx, 0, keys...).Result()
	if err != nil {
		metrics.RecordRedisError("blpop")
		return "", "", fmt.Errorf("blpop: %w", err)
	}
	metrics.RecordRedisOperation("blpop", time.Since(start).Seconds())
	// result is [key, value]
	key, value := result[0], result[1]
	return q.stripPrefix(key), value, nil
}

func (q *ListQueue) stripPrefix(key string) string {
	if len(key) > len(q.keyPrefix) && key[:len(q.keyPrefix)] == q.keyPrefix {
		return key[len(q.keyPrefix):]
	}
	return key
}

// BatchPop performs n pipelined, non-blocking LPOPs against a single
// queue, returning up to n job IDs. It stops counting at the first
// empty result but still executes the full pipeline round-trip
// (cheaper than n sequential calls); nil results are filtered here so
// the Worker Loop never sees them.
func (q *ListQueue) BatchPop(ctx context.Context, queue string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.StringCmd, n)
	for i := 0; i < n; i++ {
		cmds[i] = pipe.LPop(ctx, q.key(queue))
	}
	start := time.Now()
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		metrics.RecordRedisError("lpop")
		return nil, fmt.Errorf("batch pop pipeline: %w", err)
	}
	metrics.RecordRedisOperation("lpop", time.Since(start).Seconds())

	ids := make([]string, 0, n)
	for _, cmd := range cmds {
		id, err := cmd.Result()
		if err == redis.Nil || id == "" {
			continue
		}
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Enqueue pushes a job ID onto a queue, either immediately (RPUSH) or,
// when countdown > 0, via the caller's delayed-scheduling mechanism.
// The ListQueue itself only knows immediate pushes; delayed enqueues
// are handled one layer up by internal/scheduler, which shares this
// queue's Redis client.
func (q *ListQueue) Enqueue(ctx context.Context, queue, jobID string, countdown time.Duration) error {
	if countdown > 0 {
		return fmt.Errorf("enqueue: countdown > 0 must go through the scheduler's delay path")
	}
	start := time.Now()
	if err := q.client.RPush(ctx, q.key(queue), jobID).Err(); err != nil {
		metrics.RecordRedisError("rpush")
		return err
	}
	metrics.RecordRedisOperation("rpush", time.Since(start).Seconds())
	return nil
}

// Depth returns the current length of a queue, for admin/metrics use.
func (q *ListQueue) Depth(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, q.key(queue)).Result()
}

// DepthAll returns the depth of each named queue, for admin/metrics use.
func (q *ListQueue) DepthAll(ctx context.Context, queues []string) (map[string]int64, error) {
	depths := make(map[string]int64, len(queues))
	for _, name := range queues {
		d, err := q.Depth(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("depth of %q: %w", name, err)
		}
		depths[name] = d
	}
	return depths, nil
}

// Remove deletes the first occurrence of jobID from queue, for
// operator-initiated cancellation of a job that has not yet started.
func (q *ListQueue) Remove(ctx context.Context, queue, jobID string) (int64, error) {
	return q.client.LRem(ctx, q.key(queue), 1, jobID).Result()
}

// Purge deletes every entry in queue.
func (q *ListQueue) Purge(ctx context.Context, queue string) error {
	return q.client.Del(ctx, q.key(queue)).Err()
}
