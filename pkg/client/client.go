package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TaskQueueClient is a thin, hand-written HTTP client for the producer
// and admin surface (cmd/api-server). The routes are few and stable
// enough that generated bindings would cost more than they save, so
// this talks to them directly with net/http.
type TaskQueueClient struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new TaskQueueClient.
func New(baseURL string, opts ...Option) (*TaskQueueClient, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &TaskQueueClient{baseURL: baseURL, opts: o}, nil
}

// ConnectWebSocket establishes a WebSocket connection for real-time
// events. Passing event types narrows the subscription from the start;
// none means the full feed.
func (c *TaskQueueClient) ConnectWebSocket(ctx context.Context, eventTypes ...EventType) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey, eventTypes)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events.
// Must call ConnectWebSocket first.
func (c *TaskQueueClient) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *TaskQueueClient) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeEvents subscribes to specific event types.
func (c *TaskQueueClient) SubscribeEvents(eventTypes ...EventType) error {
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.ws.Subscribe(eventTypes...)
}

// CreateTaskRequest is the wire shape for POST /api/v1/tasks, matching
// internal/api/handlers.CreateTaskRequest.
type CreateTaskRequest struct {
	Path        string                 `json:"path"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Queue       string                 `json:"queue,omitempty"`
	Timeout     time.Duration          `json:"timeout,omitempty"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
}

// Task mirrors the task.Job document the server returns for a job.
type Task struct {
	ID         string                 `json:"id"`
	Path       string                 `json:"path"`
	Params     map[string]interface{} `json:"params"`
	Queue      string                 `json:"queue"`
	Status     string                 `json:"status"`
	RetryCount int                    `json:"retry_count"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Traceback  *string                `json:"traceback,omitempty"`
	WorkerID   string                 `json:"worker_id,omitempty"`
	QueuedAt   time.Time              `json:"queued_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
}

// QueueStats reports the pending depth per queue, as returned by
// GET /api/v1/tasks.
type QueueStats struct {
	QueueDepths  map[string]int64 `json:"queue_depths"`
	TotalPending int64            `json:"total_pending"`
}

// HealthResponse reports server and Redis connectivity status.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
	Error  string `json:"error,omitempty"`
}

// WorkerSummary is one entry of GET /admin/workers.
type WorkerSummary struct {
	WorkerID  string    `json:"worker_id"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkerListResponse is the response body of GET /admin/workers.
type WorkerListResponse struct {
	Workers []WorkerSummary `json:"workers"`
	Count   int             `json:"count"`
}

// DLQEntry mirrors queue.AuditEntry.
type DLQEntry struct {
	Job       Task      `json:"job"`
	Reason    string    `json:"reason"`
	AddedAt   time.Time `json:"added_at"`
	MessageID string    `json:"message_id,omitempty"`
}

// DLQListResponse is the response body of GET /admin/dlq.
type DLQListResponse struct {
	Entries []DLQEntry `json:"entries"`
	Size    int64      `json:"size"`
}

// SubmitTask creates a new task and returns the created task.
func (c *TaskQueueClient) SubmitTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var task Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/tasks", req, http.StatusCreated, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskByID retrieves a task by its ID.
func (c *TaskQueueClient) GetTaskByID(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks/"+taskID, nil, http.StatusOK, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTaskByID cancels a task by its ID. Only a job still sitting in
// status queued can be cancelled.
func (c *TaskQueueClient) CancelTaskByID(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/tasks/"+taskID, nil, http.StatusOK, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetQueueStatistics returns the current queue depths.
func (c *TaskQueueClient) GetQueueStatistics(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CheckHealth checks the health of the API server.
func (c *TaskQueueClient) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/admin/health", nil, http.StatusOK, &health)
	if err == nil {
		return &health, nil
	}

	var apiErr *StatusError
	if statusErrorAs(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &health, nil
	}
	return nil, err
}

// ListAllWorkers returns all active workers.
func (c *TaskQueueClient) ListAllWorkers(ctx context.Context) (*WorkerListResponse, error) {
	var resp WorkerListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/admin/workers", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PauseWorkerByID pauses a worker.
func (c *TaskQueueClient) PauseWorkerByID(ctx context.Context, workerID string) error {
	return c.doJSON(ctx, http.MethodPost, "/admin/workers/"+workerID+"/pause", nil, http.StatusOK, nil)
}

// ResumeWorkerByID resumes a paused worker.
func (c *TaskQueueClient) ResumeWorkerByID(ctx context.Context, workerID string) error {
	return c.doJSON(ctx, http.MethodPost, "/admin/workers/"+workerID+"/resume", nil, http.StatusOK, nil)
}

// GetDLQEntries returns all entries in the failure audit log.
func (c *TaskQueueClient) GetDLQEntries(ctx context.Context) (*DLQListResponse, error) {
	var resp DLQListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/admin/dlq", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryDLQTask retries a specific task from the audit log.
func (c *TaskQueueClient) RetryDLQTask(ctx context.Context, taskID string) error {
	body := map[string]interface{}{"task_id": taskID}
	return c.doJSON(ctx, http.MethodPost, "/admin/dlq/retry", body, http.StatusOK, nil)
}

// RetryAllDLQTasks retries every task in the audit log and reports how many were re-queued.
func (c *TaskQueueClient) RetryAllDLQTasks(ctx context.Context) (int, error) {
	body := map[string]interface{}{"retry_all": true}
	var resp struct {
		RetriedCount int `json:"retried_count"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/admin/dlq/retry", body, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.RetriedCount, nil
}

// ClearDLQAll clears all entries from the audit log.
func (c *TaskQueueClient) ClearDLQAll(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/admin/dlq", nil, http.StatusOK, nil)
}

// StatusError is returned when the server responds with an
// unexpected status code.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

func statusErrorAs(err error, target **StatusError) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return false
	}
	*target = se
	return true
}

func (c *TaskQueueClient) doJSON(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
