// Package scheduler implements the Scheduler Loop: periodic
// materialization of time-based job definitions into the queue, plus
// the delayed-retry mechanism the Job Record's SaveRetry countdown
// relies on. Built on a ZADD-scored sorted set and a distributed SetNX
// lock so only one worker's scheduler activates a given cycle's due
// work.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queueworks/taskqueue/internal/logger"
	"github.com/queueworks/taskqueue/internal/metrics"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/task"
)

const (
	definitionsKey = "scheduler:definitions"
	lockKey        = "scheduler:lock"
	lockTTL        = 5 * time.Second
)

// Scheduler owns a local snapshot of scheduled job definitions,
// refreshed on startup via SyncTasks, and enqueues due jobs (both
// Definitions and delayed retries) every Interval.
type Scheduler struct {
	client   *redis.Client
	queue    *queue.ListQueue
	record   *task.Record
	delayed  *DelayedQueue
	Interval time.Duration

	mu          sync.Mutex
	definitions map[string]*Definition

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(client *redis.Client, q *queue.ListQueue, record *task.Record, interval time.Duration) *Scheduler {
	return &Scheduler{
		client:      client,
		queue:       q,
		record:      record,
		delayed:     NewDelayedQueue(client, q),
		Interval:    interval,
		definitions: make(map[string]*Definition),
		stopCh:      make(chan struct{}),
	}
}

// SyncTasks loads all scheduled job definitions from the state
// backend. Called once before the loop starts.
func (s *Scheduler) SyncTasks(ctx context.Context) error {
	raw, err := s.client.HGetAll(ctx, definitionsKey).Result()
	if err != nil {
		return fmt.Errorf("load scheduled definitions: %w", err)
	}

	defs := make(map[string]*Definition, len(raw))
	for name, data := range raw {
		d, err := FromJSON([]byte(data))
		if err != nil {
			logger.Error().Err(err).Str("name", name).Msg("skipping malformed scheduled definition")
			continue
		}
		defs[name] = d
	}

	s.mu.Lock()
	s.definitions = defs
	s.mu.Unlock()

	return nil
}

// Upsert adds or replaces a scheduled job definition, persisting it
// and refreshing the in-memory snapshot.
func (s *Scheduler) Upsert(ctx context.Context, d *Definition) error {
	data, err := d.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	if err := s.client.HSet(ctx, definitionsKey, d.Name, data).Err(); err != nil {
		return fmt.Errorf("store definition: %w", err)
	}

	s.mu.Lock()
	s.definitions[d.Name] = d
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.definitions, name)
	s.mu.Unlock()
	return s.client.HDel(ctx, definitionsKey, name).Err()
}

// Start begins the background scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	logger.Info().Dur("interval", s.Interval).Msg("scheduler started")
}

// Stop terminates the loop and waits for it to exit (block=true
// semantics, as required by the shutdown finalizer).
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs a single scan cycle: activates due Definitions and due
// delayed retries. An unrecoverable error here is logged and the
// activity continues on the next tick — it must never crash the
// worker loop.
func (s *Scheduler) Check(ctx context.Context) {
	// Distributed lock so only one worker's scheduler activates a
	// given cycle's due work when several workers run with
	// scheduler=true.
	locked, err := s.client.SetNX(ctx, lockKey, "1", lockTTL).Result()
	if err != nil {
		logger.Error().Err(err).Msg("scheduler lock acquisition failed")
		return
	}
	if !locked {
		return
	}
	defer s.client.Del(ctx, lockKey)

	s.activateDueDefinitions(ctx)
	s.activateDueDelayed(ctx)
}

func (s *Scheduler) activateDueDefinitions(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	defs := make([]*Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		defs = append(defs, d)
	}
	s.mu.Unlock()

	for _, d := range defs {
		due, err := d.Due(now)
		if err != nil {
			logger.Error().Err(err).Str("name", d.Name).Msg("failed to evaluate schedule")
			continue
		}
		if !due {
			continue
		}

		job := task.New(d.Path, d.Params, d.Queue)
		if err := s.record.Store(ctx, job); err != nil {
			logger.Error().Err(err).Str("name", d.Name).Msg("failed to store scheduled job")
			continue
		}
		if err := s.queue.Enqueue(ctx, d.Queue, job.ID, 0); err != nil {
			logger.Error().Err(err).Str("name", d.Name).Msg("failed to enqueue scheduled job")
			continue
		}

		// At most one enqueue per cycle per definition: advance
		// last_enqueued_at regardless of how many intervals were
		// missed.
		d.LastEnqueuedAt = now
		if err := s.Upsert(ctx, d); err != nil {
			logger.Error().Err(err).Str("name", d.Name).Msg("failed to persist last_enqueued_at")
		}

		metrics.RecordSchedulerActivation(d.Name)
		logger.Info().Str("name", d.Name).Str("path", d.Path).Str("job_id", job.ID).Msg("scheduled job activated")
	}
}

func (s *Scheduler) activateDueDelayed(ctx context.Context) {
	entries, err := s.delayed.DueDelayed(ctx, time.Now().UTC())
	if err != nil {
		logger.Error().Err(err).Msg("failed to scan delayed retries")
		return
	}

	for _, entry := range entries {
		if err := s.queue.Enqueue(ctx, entry.Queue, entry.JobID, 0); err != nil {
			logger.Error().Err(err).Str("job_id", entry.JobID).Msg("failed to enqueue delayed retry")
			continue
		}
		if err := s.delayed.Ack(ctx, entry); err != nil {
			logger.Error().Err(err).Str("job_id", entry.JobID).Msg("failed to ack delayed retry")
		}
	}
}

// Delayed exposes the delayed-retry Enqueuer for task.Record.SaveRetry.
func (s *Scheduler) Delayed() *DelayedQueue {
	return s.delayed
}
