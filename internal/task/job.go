package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work pulled from a queue. Field names follow
// Path and Params rather than Type and Payload, but the on-wire JSON
// shape follows the same idiom used for other Redis-stored documents
// in this system.
type Job struct {
	ID          string                 `json:"id"`
	Path        string                 `json:"path"`
	Params      map[string]interface{} `json:"params"`
	Queue       string                 `json:"queue"`
	Status      Status                 `json:"status"`
	RetryCount  int                    `json:"retry_count"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Traceback   *string                `json:"traceback,omitempty"`
	WorkerID    string                 `json:"worker_id,omitempty"`
	QueuedAt    time.Time              `json:"queued_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	EndedAt     *time.Time             `json:"ended_at,omitempty"`
	Timeout     time.Duration          `json:"timeout"`
	RetryOn     []string               `json:"retry_on,omitempty"`

	// retryRequested carries an explicit in-handler retry request
	// (task.Job.RequestRetry) through to the executor's classification
	// step, honored even when the raised error's class is not itself
	// retryable.
	retryRequested bool
	retryQueue     string
	retryCountdown time.Duration
}

// New creates a job in status queued, ready to be pushed onto a queue.
func New(path string, params map[string]interface{}, queue string) *Job {
	return &Job{
		ID:       uuid.New().String(),
		Path:     path,
		Params:   params,
		Queue:    queue,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
}

// RequestRetry lets a task handler explicitly ask to be retried,
// optionally on a different queue and after a countdown delay. This is
// independent of whether the error it ultimately returns is itself
// classified as retryable.
func (j *Job) RequestRetry(queue string, countdown time.Duration) {
	j.retryRequested = true
	j.retryQueue = queue
	j.retryCountdown = countdown
}

func (j *Job) RetryRequested() (requested bool, queue string, countdown time.Duration) {
	return j.retryRequested, j.retryQueue, j.retryCountdown
}

func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

func FromJSON(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
