// Package logging implements the Log Handler: a buffered,
// asynchronously-flushed structured log sink distinct from
// internal/logger's console/file sink. Records accumulate in memory
// and are shipped to the log backend in pipelined batches.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const logStreamName = "logs"

// Record is one structured log entry.
type Record struct {
	WorkerID  string                 `json:"worker_id"`
	JobID     *string                `json:"job_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Handler buffers Records under a single-writer discipline (a mutex
// guarding the slice) and ships them to Redis in pipelined batches on
// Flush.
type Handler struct {
	client   *redis.Client
	workerID string

	mu     sync.Mutex
	buffer []Record
}

func NewHandler(client *redis.Client, workerID string) *Handler {
	return &Handler{client: client, workerID: workerID}
}

// Log appends a record to the buffer. jobID is nil for worker-scoped
// entries (not tied to a specific job).
func (h *Handler) Log(level, message string, jobID *string, extra map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buffer = append(h.buffer, Record{
		WorkerID:  h.workerID,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Extra:     extra,
	})
}

// Flush ships the buffered records to the log backend in one
// pipelined batch. durability 0 is a best-effort flush (errors are
// logged by the caller, the buffer is still drained so a slow or
// failing sink cannot grow unbounded); durability 1 is the shutdown
// path's synchronous flush and returns any error.
func (h *Handler) Flush(ctx context.Context, durability int) error {
	h.mu.Lock()
	records := h.buffer
	h.buffer = nil
	h.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	pipe := h.client.Pipeline()
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: logStreamName,
			Values: map[string]interface{}{"data": string(data)},
		})
	}

	if durability >= 1 {
		_, err := pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}
		return nil
	}

	// Best-effort: fire the pipeline without blocking the caller on
	// its result.
	go func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = pipe.Exec(flushCtx)
	}()
	return nil
}

// Len reports the current buffer size, for tests and introspection.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffer)
}
