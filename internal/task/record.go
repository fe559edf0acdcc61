package task

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "job:"

// Enqueuer is the subset of the Queue Adapter that the Job Record
// needs to re-enqueue a job on retry, kept as an interface here so
// internal/task never imports internal/queue directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, jobID string, countdown time.Duration) error
}

// Record implements the Job Record: persistent job state transitions
// and retrieval of payload from the state backend, over a single
// Redis JSON document per job.
type Record struct {
	client *redis.Client
}

func NewRecord(client *redis.Client) *Record {
	return &Record{client: client}
}

func (r *Record) key(id string) string {
	return jobKeyPrefix + id
}

// Store persists a brand-new job document (status queued) and is used
// by producers (including the Scheduler) to make a job visible before
// its ID is pushed onto a queue.
func (r *Record) Store(ctx context.Context, job *Job) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return r.client.Set(ctx, r.key(job.ID), data, 0).Err()
}

func (r *Record) Get(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return FromJSON(data)
}

// FetchAndStart atomically loads the job payload and transitions
// queued -> started, stamping started_at and the owning worker. A
// stale queue entry (ID popped but no payload present) returns
// ErrJobNotFound; the caller (Job Executor) treats that as a no-op
// success rather than a failure.
func (r *Record) FetchAndStart(ctx context.Context, id, workerID, queue string) (*Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status != StatusQueued && job.Status != StatusRetry {
		// Already claimed by another worker, or terminal. Treat as a
		// no-op rather than corrupting another worker's in-flight job.
		return nil, ErrJobNotFound
	}

	now := time.Now().UTC()
	job.Status = StatusStarted
	job.StartedAt = &now
	job.WorkerID = workerID
	job.Queue = queue

	if err := r.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SaveStatus persists a terminal status (success, failed, timeout,
// interrupt) along with an optional traceback.
func (r *Record) SaveStatus(ctx context.Context, job *Job, status Status, result map[string]interface{}, traceback *string) error {
	now := time.Now().UTC()
	job.Status = status
	job.EndedAt = &now
	job.Result = result
	job.Traceback = traceback
	return r.save(ctx, job)
}

// SaveRetry persists status retry, increments the retry counter, and
// re-enqueues the job (optionally on a different queue, optionally
// delayed by countdown seconds).
func (r *Record) SaveRetry(ctx context.Context, job *Job, excErr error, traceback string, countdown time.Duration, queue string, enqueuer Enqueuer) error {
	job.Status = StatusRetry
	job.RetryCount++
	tb := traceback
	job.Traceback = &tb
	if excErr != nil {
		msg := excErr.Error()
		job.Traceback = &msg
		if traceback != "" {
			full := traceback
			job.Traceback = &full
		}
	}

	if queue == "" {
		queue = job.Queue
	}

	if err := r.save(ctx, job); err != nil {
		return err
	}

	// Transition back to queued for the re-enqueued copy, per the
	// retry -> queued edge in the status DAG.
	job.Status = StatusQueued
	job.Queue = queue
	if err := r.save(ctx, job); err != nil {
		return err
	}

	return enqueuer.Enqueue(ctx, queue, job.ID, countdown)
}

func (r *Record) save(ctx context.Context, job *Job) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return r.client.Set(ctx, r.key(job.ID), data, 0).Err()
}

func (r *Record) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
