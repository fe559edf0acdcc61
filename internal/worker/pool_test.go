package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueworks/taskqueue/internal/task"
)

func TestPool_SpawnRespectsCapacity(t *testing.T) {
	p := NewPool(2)
	assert.Equal(t, 2, p.FreeCount())

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	spawn := func() error {
		return p.Spawn(context.Background(), func(ctx context.Context, slot *Slot) {
			started <- struct{}{}
			<-release
		})
	}

	require.NoError(t, spawn())
	require.NoError(t, spawn())
	<-started
	<-started

	assert.Equal(t, 0, p.FreeCount())
	assert.ErrorIs(t, spawn(), ErrPoolFull)

	close(release)
	require.NoError(t, p.Join(context.Background()))
	assert.Equal(t, 2, p.FreeCount())
}

func TestPool_KillCancelsSlotContext(t *testing.T) {
	p := NewPool(1)

	causeCh := make(chan error, 1)
	err := p.Spawn(context.Background(), func(ctx context.Context, slot *Slot) {
		<-ctx.Done()
		causeCh <- context.Cause(ctx)
	})
	require.NoError(t, err)

	// Give the goroutine a moment to register before killing.
	time.Sleep(10 * time.Millisecond)

	p.Kill(ErrShutdownInterrupt, true)

	select {
	case cause := <-causeCh:
		assert.ErrorIs(t, cause, ErrShutdownInterrupt)
	case <-time.After(time.Second):
		t.Fatal("slot was not cancelled")
	}
}

func TestPool_IterReportsJobAndPhase(t *testing.T) {
	p := NewPool(1)
	var wg sync.WaitGroup
	wg.Add(1)

	job := task.New("demo.add", map[string]interface{}{"a": 1}, "default")

	gate := make(chan struct{})
	require.NoError(t, p.Spawn(context.Background(), func(ctx context.Context, slot *Slot) {
		slot.setJob(job)
		slot.setPhase("running")
		wg.Done()
		<-gate
	}))

	wg.Wait()
	snaps := p.Iter()
	require.Len(t, snaps, 1)
	assert.Equal(t, job.ID, snaps[0].Job.ID)
	assert.Equal(t, "running", snaps[0].Phase)

	close(gate)
	require.NoError(t, p.Join(context.Background()))
	assert.Empty(t, p.Iter())
}
