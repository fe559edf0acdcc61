package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueworks/taskqueue/internal/config"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/task"
)

func newTestScheduler(t *testing.T) (*Scheduler, *queue.ListQueue, *task.Record) {
	t.Helper()
	mr := miniredis.RunT(t)

	q, err := queue.NewListQueue(&config.RedisConfig{Addr: mr.Addr()}, "", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	record := task.NewRecord(client)
	return New(client, q, record, 50*time.Millisecond), q, record
}

func TestScheduler_UpsertSyncRoundTrip(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	def := &Definition{
		Name:     "cleanup",
		Path:     "maintenance.cleanup",
		Queue:    "default",
		Interval: time.Minute,
	}
	require.NoError(t, s.Upsert(ctx, def))

	// A fresh scheduler against the same backend sees the definition.
	fresh := New(s.client, s.queue, s.record, time.Second)
	require.NoError(t, fresh.SyncTasks(ctx))

	fresh.mu.Lock()
	loaded, ok := fresh.definitions["cleanup"]
	fresh.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "maintenance.cleanup", loaded.Path)
	assert.Equal(t, time.Minute, loaded.Interval)
}

func TestScheduler_CheckActivatesDueDefinitionOnce(t *testing.T) {
	s, q, record := newTestScheduler(t)
	ctx := context.Background()

	def := &Definition{
		Name:     "report",
		Path:     "reports.daily",
		Params:   map[string]interface{}{"day": "monday"},
		Queue:    "reports",
		Interval: time.Hour,
	}
	require.NoError(t, s.Upsert(ctx, def))

	s.Check(ctx)

	depth, err := q.Depth(ctx, "reports")
	require.NoError(t, err)
	require.Equal(t, int64(1), depth, "due definition enqueues exactly one job")

	ids, err := q.BatchPop(ctx, "reports", 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	job, err := record.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "reports.daily", job.Path)
	assert.Equal(t, task.StatusQueued, job.Status)

	// Not due again: last_enqueued_at advanced, so a second cycle is a
	// no-op even though intervals were previously missed.
	s.Check(ctx)
	depth, err = q.Depth(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestScheduler_RemoveStopsActivation(t *testing.T) {
	s, q, _ := newTestScheduler(t)
	ctx := context.Background()

	def := &Definition{Name: "gone", Path: "x", Queue: "default", Interval: time.Minute}
	require.NoError(t, s.Upsert(ctx, def))
	require.NoError(t, s.Remove(ctx, "gone"))

	s.Check(ctx)

	depth, err := q.Depth(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestDelayedQueue_ParksUntilDue(t *testing.T) {
	s, q, _ := newTestScheduler(t)
	ctx := context.Background()
	d := s.Delayed()

	require.NoError(t, d.Enqueue(ctx, "other", "job-99", time.Hour))

	// Nothing on the live queue yet.
	depth, err := q.Depth(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	entries, err := d.DueDelayed(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, entries, "countdown has not elapsed")

	entries, err = d.DueDelayed(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-99", entries[0].JobID)
	assert.Equal(t, "other", entries[0].Queue)

	require.NoError(t, d.Ack(ctx, entries[0]))
	entries, err = d.DueDelayed(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDelayedQueue_ImmediateEnqueueForwards(t *testing.T) {
	s, q, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Delayed().Enqueue(ctx, "default", "job-1", 0))

	depth, err := q.Depth(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}
