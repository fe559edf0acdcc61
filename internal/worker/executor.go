package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/queueworks/taskqueue/internal/logging"
	"github.com/queueworks/taskqueue/internal/metrics"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/task"
)

// ErrJobTimeout is the context.Cause a slot's context carries when its
// per-job deadline (task.TaskSpec.Timeout) elapses.
var ErrJobTimeout = errors.New("worker: job exceeded its timeout")

// ErrShutdownInterrupt is the context.Cause the Shutdown Controller
// injects into a slot's context when killing it.
var ErrShutdownInterrupt = errors.New("worker: job interrupted by shutdown")

// Executor implements the Job Executor: it runs one job to
// completion, classifies the outcome, and persists it. Every
// persistence write below uses a context detached from the slot's
// cancellable context — the job's own timeout or an operator-initiated
// Kill must not also cancel the write recording that outcome.
type Executor struct {
	registry *task.Registry
	record   *task.Record
	enqueuer task.Enqueuer
	audit    *queue.FailureAudit
	logs     *logging.Handler
}

func NewExecutor(registry *task.Registry, record *task.Record, enqueuer task.Enqueuer, audit *queue.FailureAudit, logs *logging.Handler) *Executor {
	return &Executor{registry: registry, record: record, enqueuer: enqueuer, audit: audit, logs: logs}
}

// handlerOutcome carries a handler's result or panic back across the
// goroutine boundary the timeout race requires.
type handlerOutcome struct {
	result map[string]interface{}
	err    error
}

// Execute runs the job identified by jobID, popped from queueName, in
// slot. slotCtx is the slot's cancellable context (cancelled by the
// Shutdown Controller on Kill); it is the parent for the job's timeout
// context but never itself used for persistence.
func (e *Executor) Execute(slotCtx context.Context, slot *Slot, jobID, queueName, workerID string) error {
	slot.setPhase("fetching")
	job, err := e.record.FetchAndStart(detached(slotCtx), jobID, workerID, queueName)
	if errors.Is(err, task.ErrJobNotFound) {
		// Stale queue entry: the ID was popped but its payload is gone
		// or already claimed. Not a failure of this slot's work.
		metrics.RecordStaleQueueEntry(queueName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch and start job %s: %w", jobID, err)
	}

	slot.setJob(job)
	defer slot.clear()

	if job.StartedAt != nil {
		metrics.RecordQueueLatency(queueName, job.StartedAt.Sub(job.QueuedAt).Seconds())
	}

	spec, ok := e.registry.Resolve(job.Path)
	if !ok {
		e.logHandlerMissing(job)
		return e.finish(job, task.StatusFailed, nil, strPtr(task.ErrHandlerNotFound.Error()), "")
	}

	slot.setPhase("running:" + job.Path)
	result, handlerErr := e.runWithTimeout(slotCtx, spec, job)

	return e.classify(job, spec, result, handlerErr, queueName)
}

// runWithTimeout arms the job's declared timeout over slotCtx and
// invokes the handler on a separate goroutine so a handler that
// ignores ctx cancellation still yields control back to the executor
// at the timeout boundary.
func (e *Executor) runWithTimeout(slotCtx context.Context, spec task.TaskSpec, job *task.Job) (map[string]interface{}, error) {
	timeout := spec.Timeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}

	jobCtx, cancel := context.WithTimeoutCause(slotCtx, timeout, ErrJobTimeout)
	defer cancel()

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("panic in task %s: %v\n%s", job.Path, r, debug.Stack())}
			}
		}()
		result, err := spec.Handler(jobCtx, job)
		done <- handlerOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-jobCtx.Done():
		cause := context.Cause(jobCtx)
		// Give the handler goroutine a brief grace window to notice
		// cancellation and return; its result is discarded either way.
		select {
		case outcome := <-done:
			if cause != nil && (errors.Is(cause, ErrJobTimeout) || errors.Is(cause, ErrShutdownInterrupt)) {
				return outcome.result, cause
			}
			return outcome.result, outcome.err
		case <-time.After(2 * time.Second):
			return nil, cause
		}
	}
}

// classify applies the outcome algorithm in priority order: explicit
// retry request first, then timeout/interrupt causes, then
// classifier-tag-based retry eligibility, then plain success/failure.
func (e *Executor) classify(job *task.Job, spec task.TaskSpec, result map[string]interface{}, handlerErr error, queueName string) error {
	if requested, retryQueue, countdown := job.RetryRequested(); requested {
		return e.retry(job, handlerErr, countdown, retryQueue)
	}

	switch {
	case errors.Is(handlerErr, ErrJobTimeout):
		metrics.RecordJobTimeout(job.Path)
		return e.finish(job, task.StatusTimeout, nil, strPtr(handlerErr.Error()), "")
	case errors.Is(handlerErr, ErrShutdownInterrupt):
		metrics.RecordJobInterrupt(job.Path)
		return e.finish(job, task.StatusInterrupt, nil, strPtr(handlerErr.Error()), "")
	case handlerErr == nil:
		return e.finish(job, task.StatusSuccess, result, nil, "")
	}

	tag := task.Classify(handlerErr)
	if spec.Retryable(tag) {
		return e.retry(job, handlerErr, 0, "")
	}

	return e.fail(job, handlerErr, queueName)
}

func (e *Executor) retry(job *task.Job, cause error, countdown time.Duration, retryQueue string) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	metrics.RecordTaskRetry(job.Path)
	return e.record.SaveRetry(detached(context.Background()), job, cause, msg, countdown, retryQueue, e.enqueuer)
}

func (e *Executor) fail(job *task.Job, cause error, queueName string) error {
	tb := cause.Error()
	if err := e.finish(job, task.StatusFailed, nil, &tb, queueName); err != nil {
		return err
	}
	if e.audit != nil {
		_ = e.audit.Record(detached(context.Background()), job, tb)
	}
	return nil
}

func (e *Executor) finish(job *task.Job, status task.Status, result map[string]interface{}, traceback *string, _ string) error {
	var duration float64
	if job.StartedAt != nil {
		duration = time.Since(*job.StartedAt).Seconds()
	}
	metrics.RecordTaskCompletion(job.Path, status.String(), duration)
	metrics.RecordWorkerBusyTime(job.WorkerID, duration)
	return e.record.SaveStatus(detached(context.Background()), job, status, result, traceback)
}

func (e *Executor) logHandlerMissing(job *task.Job) {
	if e.logs == nil {
		return
	}
	e.logs.Log("error", fmt.Sprintf("no handler registered for path %q", job.Path), &job.ID, nil)
}

// detached strips slotCtx of cancellation while preserving nothing
// else from it (no values are relied upon across the boundary) — a
// status-persistence write must outlive the job's own timeout or an
// operator Kill.
func detached(_ context.Context) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = cancel // caller's write completes or times out; leak is bounded
	return ctx
}

func strPtr(s string) *string { return &s }
