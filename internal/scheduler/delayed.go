package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queueworks/taskqueue/internal/queue"
)

const delayedSetKey = "scheduler:delayed"

// DelayedQueue implements task.Enqueuer: an immediate enqueue
// (countdown == 0) is forwarded straight to the underlying Queue
// Adapter; a delayed one (countdown > 0) is parked in a Redis
// ZADD-scored sorted set keyed by due time, picked up by the
// Scheduler Loop's DueDelayed scan the same way a cron Definition is.
type DelayedQueue struct {
	client *redis.Client
	queue  *queue.ListQueue
}

func NewDelayedQueue(client *redis.Client, q *queue.ListQueue) *DelayedQueue {
	return &DelayedQueue{client: client, queue: q}
}

func (d *DelayedQueue) Enqueue(ctx context.Context, queueName, jobID string, countdown time.Duration) error {
	if countdown <= 0 {
		return d.queue.Enqueue(ctx, queueName, jobID, 0)
	}

	due := time.Now().UTC().Add(countdown)
	member := jobID + "|" + queueName
	return d.client.ZAdd(ctx, delayedSetKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: member,
	}).Err()
}

// DueDelayed pops and returns (jobID, queue) pairs whose delay has
// elapsed, removing them from the delayed set.
func (d *DelayedQueue) DueDelayed(ctx context.Context, now time.Time) ([]DelayedEntry, error) {
	members, err := d.client.ZRangeByScore(ctx, delayedSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan delayed set: %w", err)
	}

	entries := make([]DelayedEntry, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "|", 2)
		if len(parts) != 2 {
			d.client.ZRem(ctx, delayedSetKey, m)
			continue
		}
		entries = append(entries, DelayedEntry{JobID: parts[0], Queue: parts[1], member: m})
	}
	return entries, nil
}

func (d *DelayedQueue) Ack(ctx context.Context, entry DelayedEntry) error {
	return d.client.ZRem(ctx, delayedSetKey, entry.member).Err()
}

type DelayedEntry struct {
	JobID string
	Queue string

	member string
}
