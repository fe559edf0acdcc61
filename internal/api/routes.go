package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/queueworks/taskqueue/internal/api/handlers"
	apiMiddleware "github.com/queueworks/taskqueue/internal/api/middleware"
	"github.com/queueworks/taskqueue/internal/api/websocket"
	"github.com/queueworks/taskqueue/internal/config"
	"github.com/queueworks/taskqueue/internal/events"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/task"
)

// Server represents the HTTP server: the producer and admin surface
// that submits jobs and exposes operational state. It is not part of
// the core worker runtime.
type Server struct {
	router       *chi.Mux
	client       *redis.Client
	queue        *queue.ListQueue
	record       *task.Record
	audit        *queue.FailureAudit
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	publisher    *events.RedisPubSub
}

// NewServer creates a new HTTP server. enqueuer is the same
// task.Enqueuer the worker's Scheduler exposes (its DelayedQueue),
// so a producer's scheduled_at request rides the identical
// delayed-retry mechanism a job's own countdown retry uses.
func NewServer(cfg *config.Config, client *redis.Client, q *queue.ListQueue, record *task.Record, enqueuer task.Enqueuer, audit *queue.FailureAudit, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		client:       client,
		queue:        q,
		record:       record,
		audit:        audit,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(q, record, enqueuer, publisher, cfg.Core.Queues, cfg.Queue.MaxQueueSize),
		adminHandler: handlers.NewAdminHandler(client, q, record, audit, cfg.Core.Queues),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
		publisher:    publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(apiMiddleware.RequestLogger())

	// Recoverer
	s.router.Use(middleware.Recoverer)

	// Heartbeat endpoint for load balancers
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	authCfg := s.authConfig()

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Content type for API routes
		r.Use(middleware.AllowContentType("application/json"))

		// Rate limiting for API routes
		if s.config.Queue.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Queue.RateLimitRPS))
		}

		if s.config.Auth.Enabled {
			r.Use(apiMiddleware.Auth(authCfg))
		}

		// Task routes
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
			r.Get("/", s.taskHandler.List)
		})
	})

	// Admin routes: operator-only when auth is enabled (API keys count
	// as operator credentials; a producer JWT is rejected here).
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		if s.config.Auth.Enabled {
			r.Use(apiMiddleware.Auth(authCfg))
			r.Use(apiMiddleware.RequireRole(apiMiddleware.RoleOperator))
		}

		r.Get("/health", s.adminHandler.HealthCheck)

		// Worker management
		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{workerID}", s.adminHandler.GetWorker)
		r.Post("/workers/{workerID}/pause", s.adminHandler.PauseWorker)
		r.Post("/workers/{workerID}/resume", s.adminHandler.ResumeWorker)

		// Queue management
		r.Get("/queues", s.adminHandler.GetQueues)
		r.Delete("/queues/{name}", s.adminHandler.PurgeQueue)

		// Task management
		r.Post("/tasks/{taskID}/retry", s.adminHandler.RetryTask)

		// DLQ management
		r.Get("/dlq", s.adminHandler.ListDLQ)
		r.Post("/dlq/retry", s.adminHandler.RetryDLQ)
		r.Delete("/dlq", s.adminHandler.ClearDLQ)
	})

	// WebSocket endpoint, behind the shared (not per-client) limiter:
	// a reconnect storm from many dashboards is a total-load problem.
	if s.config.Queue.RateLimitRPS > 0 {
		s.router.Method(http.MethodGet, "/ws", apiMiddleware.RateLimit(s.config.Queue.RateLimitRPS)(http.HandlerFunc(s.wsHandler.ServeWS)))
	} else {
		s.router.Get("/ws", s.wsHandler.ServeWS)
	}

	// Metrics endpoint
	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// authConfig projects the loaded config's auth block into the
// middleware's shape (a key-set lookup instead of a slice).
func (s *Server) authConfig() *apiMiddleware.AuthConfig {
	keys := make(map[string]bool, len(s.config.Auth.APIKeys))
	for _, k := range s.config.Auth.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	return &apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   keys,
	}
}

// Start starts the WebSocket hub
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publisher returns the event publisher
func (s *Server) Publisher() *events.RedisPubSub {
	return s.publisher
}
