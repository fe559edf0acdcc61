package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queueworks/taskqueue/internal/api"
	"github.com/queueworks/taskqueue/internal/config"
	"github.com/queueworks/taskqueue/internal/events"
	"github.com/queueworks/taskqueue/internal/logger"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/scheduler"
	"github.com/queueworks/taskqueue/internal/task"
)

// cmd/api-server is the producer/admin surface: it submits jobs,
// reports status, and surfaces worker heartbeats and the failure
// audit log over HTTP. It never dequeues or executes a job itself.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production", false)

	log := logger.Get()
	log.Info().Msg("Starting API server...")

	q, err := queue.NewListQueue(&cfg.Redis, "", cfg.Queue.BlockTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect queue adapter")
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close queue adapter")
		}
	}()

	client := q.Client()
	record := task.NewRecord(client)
	audit := queue.NewFailureAudit(client)

	publisher := events.NewRedisPubSub(client)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	// Shares the same delayed-enqueue mechanism the worker's Scheduler
	// uses for countdown retries, so a producer's scheduled_at request
	// rides the identical sorted-set delay path.
	sched := scheduler.New(client, q, record, cfg.Core.SchedulerInterval)

	server := api.NewServer(cfg, client, q, record, sched.Delayed(), audit, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	if err := sched.SyncTasks(ctx); err != nil {
		log.Error().Err(err).Msg("failed to sync scheduled job definitions, continuing with empty snapshot")
	}
	sched.Start(ctx)

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop()
	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
