package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ActiveWorkers scans the heartbeat keyspace and returns every
// worker's most recently published HeartbeatRecord. Heartbeat keys
// carry a TTL of twice the report interval, so a worker that stops
// publishing simply expires out of this list rather than needing an
// explicit liveness check.
func ActiveWorkers(ctx context.Context, client *redis.Client) ([]HeartbeatRecord, error) {
	var (
		records []HeartbeatRecord
		cursor  uint64
	)

	for {
		keys, next, err := client.Scan(ctx, cursor, heartbeatKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan worker heartbeats: %w", err)
		}

		for _, key := range keys {
			data, err := client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get heartbeat %s: %w", key, err)
			}

			var record HeartbeatRecord
			if err := json.Unmarshal(data, &record); err != nil {
				continue
			}
			records = append(records, record)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return records, nil
}

// IsWorkerAlive reports whether a heartbeat key exists for workerID.
func IsWorkerAlive(ctx context.Context, client *redis.Client, workerID string) (bool, error) {
	n, err := client.Exists(ctx, heartbeatKeyPrefix+workerID).Result()
	if err != nil {
		return false, fmt.Errorf("check worker liveness: %w", err)
	}
	return n > 0, nil
}

// pausedKey is the per-worker flag SetWorkerPaused/IsWorkerPaused toggle
// and consult; the Worker Loop checks it before each dispatch cycle so
// an operator-initiated pause takes effect on the next iteration
// without restarting the process.
func pausedKey(workerID string) string {
	return heartbeatKeyPrefix + workerID + ":paused"
}

// SetWorkerPaused sets or clears the pause flag for workerID. Set by
// the admin pause/resume endpoints.
func SetWorkerPaused(ctx context.Context, client *redis.Client, workerID string, paused bool) error {
	if paused {
		return client.Set(ctx, pausedKey(workerID), "1", 0).Err()
	}
	return client.Del(ctx, pausedKey(workerID)).Err()
}

// IsWorkerPaused reports whether workerID currently has its pause flag
// set. Consulted by the Worker Loop before each dispatch cycle.
func IsWorkerPaused(ctx context.Context, client *redis.Client, workerID string) (bool, error) {
	n, err := client.Exists(ctx, pausedKey(workerID)).Result()
	if err != nil {
		return false, fmt.Errorf("check worker pause state: %w", err)
	}
	return n > 0, nil
}
