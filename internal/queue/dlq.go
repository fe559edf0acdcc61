package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queueworks/taskqueue/internal/metrics"
	"github.com/queueworks/taskqueue/internal/task"
)

const (
	auditStreamName = "audit:failed"
	auditSetName    = "audit:failed:set"
)

// FailureAudit is a diagnostic log of permanently-failed jobs. It is
// not a job status in the core DAG (there is no dead-letter status) —
// a job that exhausts its retries is recorded here purely for
// operator visibility and manual replay, while its persisted Job
// document keeps the "failed" status.
type FailureAudit struct {
	client *redis.Client
}

func NewFailureAudit(client *redis.Client) *FailureAudit {
	return &FailureAudit{client: client}
}

// AuditEntry captures a job at the moment it was recorded as
// permanently failed.
type AuditEntry struct {
	Job       *task.Job `json:"job"`
	Reason    string    `json:"reason"`
	AddedAt   time.Time `json:"added_at"`
	MessageID string    `json:"message_id,omitempty"`
}

// Record appends a permanently-failed job to the audit log. It does
// not mutate the job's status — the caller has already persisted
// "failed" via task.Record.SaveStatus.
func (a *FailureAudit) Record(ctx context.Context, job *task.Job, reason string) error {
	entry := AuditEntry{Job: job, Reason: reason, AddedAt: time.Now().UTC()}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	if _, err := a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: auditStreamName,
		Values: map[string]interface{}{
			"job_id": job.ID,
			"path":   job.Path,
			"data":   string(data),
		},
	}).Result(); err != nil {
		return fmt.Errorf("add to audit stream: %w", err)
	}

	a.client.SAdd(ctx, auditSetName, job.ID)

	metrics.IncrementDLQAdded()
	if size, err := a.Size(ctx); err == nil {
		metrics.SetDLQSize(float64(size))
	}
	return nil
}

// List returns up to count audit entries (0 = unbounded) starting from offset.
func (a *FailureAudit) List(ctx context.Context, count int64, offset string) ([]AuditEntry, error) {
	if offset == "" {
		offset = "-"
	}

	messages, err := a.client.XRange(ctx, auditStreamName, offset, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}

	entries := make([]AuditEntry, 0, len(messages))
	for i, msg := range messages {
		if count > 0 && int64(i) >= count {
			break
		}
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entry.MessageID = msg.ID
		entries = append(entries, entry)
	}
	return entries, nil
}

// Replay resets an audited job to queued and re-enqueues it, for
// operator-initiated recovery. The core itself never deletes a job
// record, but operator intervention on a terminal state is permitted.
func (a *FailureAudit) Replay(ctx context.Context, record *task.Record, q *ListQueue, jobID string) error {
	entries, err := a.List(ctx, 0, "")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Job.ID != jobID {
			continue
		}

		job := entry.Job
		job.Status = task.StatusQueued
		job.RetryCount = 0
		job.Traceback = nil
		job.StartedAt = nil
		job.EndedAt = nil

		if err := record.Store(ctx, job); err != nil {
			return fmt.Errorf("store replayed job: %w", err)
		}
		if err := q.Enqueue(ctx, job.Queue, job.ID, 0); err != nil {
			return fmt.Errorf("enqueue replayed job: %w", err)
		}

		if entry.MessageID != "" {
			a.client.XDel(ctx, auditStreamName, entry.MessageID)
		}
		a.client.SRem(ctx, auditSetName, jobID)
		if size, err := a.Size(ctx); err == nil {
			metrics.SetDLQSize(float64(size))
		}
		return nil
	}

	return task.ErrJobNotFound
}

// Size returns the number of distinct jobs recorded in the audit log.
func (a *FailureAudit) Size(ctx context.Context) (int64, error) {
	return a.client.SCard(ctx, auditSetName).Result()
}

// Clear wipes the audit log (operator maintenance only).
func (a *FailureAudit) Clear(ctx context.Context) error {
	if err := a.client.Del(ctx, auditStreamName).Err(); err != nil {
		return fmt.Errorf("delete audit stream: %w", err)
	}
	if err := a.client.Del(ctx, auditSetName).Err(); err != nil {
		return err
	}
	metrics.SetDLQSize(0)
	return nil
}
