package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/queueworks/taskqueue/internal/events"
	"github.com/queueworks/taskqueue/internal/logger"
	"github.com/queueworks/taskqueue/internal/metrics"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/task"
)

// CreateTaskRequest is the producer-facing request shape for
// submitting a job, using Path/Params to match the Job Record's
// vocabulary.
type CreateTaskRequest struct {
	Path        string                 `json:"path"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Queue       string                 `json:"queue,omitempty"`
	Timeout     time.Duration          `json:"timeout,omitempty"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
}

// TaskHandler handles job-submission HTTP requests.
type TaskHandler struct {
	queue        *queue.ListQueue
	record       *task.Record
	enqueuer     task.Enqueuer
	publisher    *events.RedisPubSub
	queues       []string
	maxQueueSize int64
}

// NewTaskHandler creates a new task handler. enqueuer is typically
// *scheduler.DelayedQueue, which forwards countdown-0 enqueues
// straight to q and defers the rest — the Create handler doesn't need
// to know which.
func NewTaskHandler(q *queue.ListQueue, record *task.Record, enqueuer task.Enqueuer, publisher *events.RedisPubSub, queues []string, maxQueueSize int64) *TaskHandler {
	return &TaskHandler{
		queue:        q,
		record:       record,
		enqueuer:     enqueuer,
		publisher:    publisher,
		queues:       queues,
		maxQueueSize: maxQueueSize,
	}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Path == "" {
		h.respondError(w, http.StatusBadRequest, "task path is required")
		return
	}

	queueName := req.Queue
	if queueName == "" {
		queueName = "default"
	}

	// Check queue capacity (backpressure).
	if h.maxQueueSize > 0 {
		depths, err := h.queue.DepthAll(r.Context(), h.queues)
		if err == nil {
			var total int64
			for _, depth := range depths {
				total += depth
			}
			if total >= h.maxQueueSize {
				h.respondError(w, http.StatusServiceUnavailable, "queue at capacity")
				return
			}
		}
	}

	job := task.New(req.Path, req.Params, queueName)
	job.Timeout = req.Timeout

	if err := h.record.Store(r.Context(), job); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to store job")
		h.respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	var countdown time.Duration
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now().UTC()) {
		countdown = time.Until(*req.ScheduledAt)
	}

	if err := h.enqueuer.Enqueue(r.Context(), queueName, job.ID, countdown); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to enqueue job")
		h.respondError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	metrics.RecordTaskSubmission(job.Path, queueName)
	if h.publisher != nil {
		if err := h.publisher.PublishTaskEvent(r.Context(), events.EventTaskSubmitted, job.ID, job.Path, queueName, nil); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to publish task event")
		}
	}

	logger.Info().Str("task_id", job.ID).Str("path", job.Path).Str("queue", queueName).Msg("task created")
	h.respondJSON(w, http.StatusCreated, job)
}

// Get handles GET /api/v1/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	job, err := h.record.Get(r.Context(), taskID)
	if err != nil {
		if err == task.ErrJobNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// Cancel handles DELETE /api/v1/tasks/{taskID}. Only a job still
// sitting in status queued (never picked up by a slot) can be
// cancelled — once started, a job follows the DAG to one of its
// terminal states and an operator wanting to stop it must use the
// Shutdown Controller, not this endpoint.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	job, err := h.record.Get(r.Context(), taskID)
	if err != nil {
		if err == task.ErrJobNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	if job.Status != task.StatusQueued {
		h.respondError(w, http.StatusConflict, "task cannot be cancelled in current state")
		return
	}

	if _, err := h.queue.Remove(r.Context(), job.Queue, job.ID); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to remove task from queue")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if err := h.record.Delete(r.Context(), job.ID); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to delete cancelled task")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task cancelled")
	h.respondJSON(w, http.StatusOK, job)
}

// List handles GET /api/v1/tasks. Full job listing would require a
// secondary index (the Job Record is keyed by ID only); this reports
// what the queue depths already expose.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	depths, err := h.queue.DepthAll(r.Context(), h.queues)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get queue depths")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	var total int64
	for _, depth := range depths {
		total += depth
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue_depths":  depths,
		"total_pending": total,
	})
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
