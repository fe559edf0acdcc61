package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/queueworks/taskqueue/internal/config"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/task"
)

func TestLoop_DispatchesAndRespectsMaxJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.RedisConfig{Addr: mr.Addr()}

	q, err := queue.NewListQueue(cfg, "", time.Second)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	record := task.NewRecord(client)
	registry := task.NewRegistry(time.Second)

	processed := make(chan string, 10)
	registry.RegisterFunc("demo.echo", func(ctx context.Context, j *task.Job) (map[string]interface{}, error) {
		processed <- j.ID
		return map[string]interface{}{}, nil
	}, time.Second)

	exec := NewExecutor(registry, record, q, nil, nil)
	pool := NewPool(2)
	loop := NewLoop([]string{"default"}, q, pool, exec, 2, "worker-1", zerolog.Nop())

	for i := 0; i < 2; i++ {
		job := task.New("demo.echo", nil, "default")
		require.NoError(t, record.Store(context.Background(), job))
		require.NoError(t, q.Enqueue(context.Background(), "default", job.ID, 0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-processed:
		case <-time.After(time.Second):
			t.Fatal("job was not processed in time")
		}
	}

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after reaching max_jobs")
	}

	require.Equal(t, int64(2), loop.DoneJobs())
}
