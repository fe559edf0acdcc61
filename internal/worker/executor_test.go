package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/queueworks/taskqueue/internal/task"
)

func newTestExecutor(t *testing.T) (*Executor, *redis.Client, *task.Record, *task.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	record := task.NewRecord(client)
	registry := task.NewRegistry(time.Second)
	exec := NewExecutor(registry, record, &stubEnqueuer{client: client}, nil, nil)
	return exec, client, record, registry
}

// stubEnqueuer re-implements the minimal immediate-enqueue semantics
// internal/queue.ListQueue provides, without pulling in that package
// (and its config dependency) just for this test.
type stubEnqueuer struct {
	client *redis.Client
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, queue, jobID string, countdown time.Duration) error {
	return s.client.RPush(ctx, "queue:"+queue, jobID).Err()
}

func runJob(t *testing.T, exec *Executor, record *task.Record, job *task.Job) error {
	t.Helper()
	require.NoError(t, record.Store(context.Background(), job))
	pool := NewPool(1)
	var execErr error
	done := make(chan struct{})
	err := pool.Spawn(context.Background(), func(slotCtx context.Context, slot *Slot) {
		execErr = exec.Execute(slotCtx, slot, job.ID, job.Queue, "worker-1")
		close(done)
	})
	require.NoError(t, err)
	<-done
	return execErr
}

func TestExecutor_SuccessPersistsResult(t *testing.T) {
	exec, _, record, registry := newTestExecutor(t)
	registry.RegisterFunc("demo.add", func(ctx context.Context, j *task.Job) (map[string]interface{}, error) {
		return map[string]interface{}{"sum": 3}, nil
	}, time.Second)

	job := task.New("demo.add", nil, "default")
	require.NoError(t, runJob(t, exec, record, job))

	saved, err := record.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusSuccess, saved.Status)
	require.Equal(t, float64(3), saved.Result["sum"])
}

func TestExecutor_NonRetryableFailureIsTerminal(t *testing.T) {
	exec, _, record, registry := newTestExecutor(t)
	registry.RegisterFunc("demo.fail", func(ctx context.Context, j *task.Job) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}, time.Second)

	job := task.New("demo.fail", nil, "default")
	require.NoError(t, runJob(t, exec, record, job))

	saved, err := record.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, saved.Status)
}

func TestExecutor_ClassifiedErrorRetries(t *testing.T) {
	exec, client, record, registry := newTestExecutor(t)
	registry.RegisterFunc("demo.flaky", func(ctx context.Context, j *task.Job) (map[string]interface{}, error) {
		return nil, task.Tag("transient", errors.New("connection reset"))
	}, time.Second, "transient")

	job := task.New("demo.flaky", nil, "default")
	require.NoError(t, runJob(t, exec, record, job))

	saved, err := record.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusQueued, saved.Status)
	require.Equal(t, 1, saved.RetryCount)

	depth, err := client.LLen(context.Background(), "queue:default").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestExecutor_ExplicitRetryRequestOverridesClassification(t *testing.T) {
	exec, _, record, registry := newTestExecutor(t)
	registry.RegisterFunc("demo.explicit_retry", func(ctx context.Context, j *task.Job) (map[string]interface{}, error) {
		j.RequestRetry("default", 0)
		return nil, errors.New("not otherwise retryable")
	}, time.Second)

	job := task.New("demo.explicit_retry", nil, "default")
	require.NoError(t, runJob(t, exec, record, job))

	saved, err := record.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusQueued, saved.Status)
}

func TestExecutor_TimeoutIsRecorded(t *testing.T) {
	exec, _, record, registry := newTestExecutor(t)
	registry.RegisterFunc("demo.slow", func(ctx context.Context, j *task.Job) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 20*time.Millisecond)

	job := task.New("demo.slow", nil, "default")
	require.NoError(t, runJob(t, exec, record, job))

	saved, err := record.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusTimeout, saved.Status)
}

func TestExecutor_MissingHandlerFailsJob(t *testing.T) {
	exec, _, record, _ := newTestExecutor(t)

	job := task.New("demo.unregistered", nil, "default")
	require.NoError(t, runJob(t, exec, record, job))

	saved, err := record.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, saved.Status)
}

func TestExecutor_StaleQueueEntryIsSkipped(t *testing.T) {
	exec, _, record, _ := newTestExecutor(t)

	pool := NewPool(1)
	var execErr error
	done := make(chan struct{})
	err := pool.Spawn(context.Background(), func(slotCtx context.Context, slot *Slot) {
		execErr = exec.Execute(slotCtx, slot, "popped-but-never-stored", "default", "worker-1")
		close(done)
	})
	require.NoError(t, err)
	<-done

	require.NoError(t, execErr, "a popped ID with no payload is a no-op, not a failure")

	_, err = record.Get(context.Background(), "popped-but-never-stored")
	require.ErrorIs(t, err, task.ErrJobNotFound)
}
