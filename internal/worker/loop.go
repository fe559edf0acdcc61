package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/queueworks/taskqueue/internal/queue"
)

// yieldInterval bounds how often the Loop re-checks FreeCount and the
// dispatch budget when the pool is full, rather than busy-spinning.
const yieldInterval = 10 * time.Millisecond

// Loop implements the Worker Loop: the dequeue-dispatch cycle. It
// blocks on the Queue Adapter for the first job, then opportunistically
// drains more from the same queue in a single batch while slots are
// free, bounded by MaxJobs — a greedy-batch, bounded dispatch policy.
type Loop struct {
	queues   []string
	q        *queue.ListQueue
	pool     *Pool
	executor *Executor
	maxJobs  int
	workerID string
	log      zerolog.Logger

	state    atomic.Int32
	doneJobs int64
}

func NewLoop(queues []string, q *queue.ListQueue, pool *Pool, executor *Executor, maxJobs int, workerID string, log zerolog.Logger) *Loop {
	return &Loop{queues: queues, q: q, pool: pool, executor: executor, maxJobs: maxJobs, workerID: workerID, log: log}
}

// DoneJobs returns the number of jobs dispatched so far. This counter
// increments at dispatch time (job handed to a slot), not completion
// time — so MaxJobs bounds total work accepted, including jobs still
// in flight at shutdown.
func (l *Loop) DoneJobs() int64 { return l.doneJobs }

// State reports the worker's lifecycle status. It begins at init,
// moves to started when Run begins dispatching, and is advanced to
// stopping or killing by the Shutdown Controller.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run drives the loop until ctx is cancelled (the Shutdown
// Controller's graceful-stop signal) or MaxJobs is reached.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateStarted)
	for {
		if l.maxJobs > 0 && l.doneJobs >= int64(l.maxJobs) {
			l.log.Info().Int64("done_jobs", l.doneJobs).Msg("max_jobs reached, worker loop stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if l.pool.FreeCount() == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(yieldInterval):
			}
			continue
		}

		if paused, err := IsWorkerPaused(ctx, l.q.Client(), l.workerID); err != nil {
			l.log.Error().Err(err).Msg("failed to check worker pause state")
		} else if paused {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(yieldInterval):
			}
			continue
		}

		queueName, jobID, err := l.q.BlockingPop(ctx, l.queues)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Error().Err(err).Msg("blocking pop failed")
			time.Sleep(yieldInterval)
			continue
		}

		l.dispatch(ctx, queueName, jobID)

		// Greedily drain more of the same queue while slots remain free
		// and the job budget allows, avoiding a BLPOP round-trip per job
		// under load.
		for l.pool.FreeCount() > 0 && (l.maxJobs <= 0 || l.doneJobs < int64(l.maxJobs)) {
			ids, err := l.q.BatchPop(ctx, queueName, l.pool.FreeCount())
			if err != nil {
				l.log.Error().Err(err).Msg("batch pop failed")
				break
			}
			if len(ids) == 0 {
				break
			}
			for _, id := range ids {
				l.dispatch(ctx, queueName, id)
			}
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, queueName, jobID string) {
	l.doneJobs++
	workerID := l.workerID
	executor := l.executor

	err := l.pool.Spawn(ctx, func(slotCtx context.Context, slot *Slot) {
		if err := executor.Execute(slotCtx, slot, jobID, queueName, workerID); err != nil {
			l.log.Error().Err(err).Str("job_id", jobID).Str("queue", queueName).Msg("job execution error")
		}
	})
	if err != nil {
		l.log.Error().Err(err).Str("job_id", jobID).Msg("failed to spawn slot for job")
	}
}
