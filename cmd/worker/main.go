// cmd/worker wires the queue adapter, job record, task registry, pool,
// executor, monitor, and scheduler into a runnable worker process: it
// loads configuration, connects to Redis, registers the example task
// handlers, and drives the Worker Loop until an operator signal
// triggers the Shutdown Controller.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/rs/zerolog"

	"github.com/queueworks/taskqueue/internal/config"
	"github.com/queueworks/taskqueue/internal/logger"
	"github.com/queueworks/taskqueue/internal/logging"
	"github.com/queueworks/taskqueue/internal/queue"
	"github.com/queueworks/taskqueue/internal/scheduler"
	"github.com/queueworks/taskqueue/internal/task"
	"github.com/queueworks/taskqueue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production", cfg.Core.Quiet)
	log := logger.Get()

	identity, err := worker.NewIdentity(cfg.Core.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build worker identity")
	}
	workerLog := logger.WithWorker(identity.ID)

	q, err := queue.NewListQueue(&cfg.Redis, "", cfg.Queue.BlockTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect queue adapter")
	}
	defer q.Close()

	client := q.Client()
	record := task.NewRecord(client)
	audit := queue.NewFailureAudit(client)
	logs := logging.NewHandler(client, identity.ID)

	registry := task.NewRegistry(cfg.Core.DefaultJobTimeout)
	registerExampleTasks(registry)

	sched := scheduler.New(client, q, record, cfg.Core.SchedulerInterval)

	exec := worker.NewExecutor(registry, record, sched.Delayed(), audit, logs)
	pool := worker.NewPool(cfg.Core.PoolSize)

	queues := cfg.Core.Queues
	if len(queues) == 0 {
		queues = []string{"default"}
	}

	loop := worker.NewLoop(queues, q, pool, exec, cfg.Core.MaxJobs, identity.ID, workerLog)

	workerConfig := map[string]interface{}{
		"queues":    queues,
		"pool_size": cfg.Core.PoolSize,
		"max_jobs":  cfg.Core.MaxJobs,
		"name":      identity.Name,
	}
	monitor := worker.NewMonitor(client, identity, pool, loop, cfg.Core.ReportInterval, cfg.Core.Quiet, workerConfig, logs, workerLog)

	ctx, cancelLoop := context.WithCancel(context.Background())

	if cfg.Core.Scheduler {
		if err := sched.SyncTasks(ctx); err != nil {
			log.Error().Err(err).Msg("failed to sync scheduled job definitions, continuing with empty snapshot")
		}
		sched.Start(ctx)
	}

	monitor.Start(ctx)

	var stopProfile func()
	if cfg.Core.Profile != "" {
		stopProfile = startProfile(cfg.Core.Profile, workerLog)
	}

	shutdown := worker.NewShutdown(pool, loop, cancelLoop, monitor, schedulerOrNil(cfg.Core.Scheduler, sched), logs, workerLog)

	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		shutdown.Listen(ctx)
	}()

	workerLog.Info().
		Strs("queues", queues).
		Int("pool_size", cfg.Core.PoolSize).
		Int("max_jobs", cfg.Core.MaxJobs).
		Msg("worker started")

	if err := loop.Run(ctx); err != nil {
		workerLog.Error().Err(err).Msg("worker loop exited with error")
	}
	cancelLoop()
	<-listenDone

	if stopProfile != nil {
		stopProfile()
	}

	workerLog.Info().Int64("done_jobs", loop.DoneJobs()).Msg("worker stopped")
}

// schedulerOrNil avoids handing the Shutdown Controller a non-nil
// interface wrapping a nil concrete pointer when the scheduler loop
// was never started.
func schedulerOrNil(enabled bool, s *scheduler.Scheduler) interface {
	Stop()
} {
	if !enabled {
		return nil
	}
	return s
}

// registerExampleTasks registers a handful of demonstration task
// paths: Add (success/timeout), Retry (explicit in-handler retry
// request), and RaiseException (permanent failure).
func registerExampleTasks(registry *task.Registry) {
	registry.RegisterFunc("Add", addHandler, 0)
	registry.RegisterFunc("Retry", retryHandler, 0, "explicit")
	registry.RegisterFunc("RaiseException", raiseExceptionHandler, 0)
}

func addHandler(ctx context.Context, job *task.Job) (map[string]interface{}, error) {
	a, _ := job.Params["a"].(float64)
	b, _ := job.Params["b"].(float64)

	if sleepSecs, ok := job.Params["sleep"].(float64); ok && sleepSecs > 0 {
		select {
		case <-time.After(time.Duration(sleepSecs * float64(time.Second))):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return map[string]interface{}{"result": a + b}, nil
}

// retryHandler demonstrates a handler explicitly requesting a retry
// via job.RequestRetry, honored by the Executor even though the
// sentinel error it returns carries no retryable classifier tag of
// its own.
func retryHandler(ctx context.Context, job *task.Job) (map[string]interface{}, error) {
	queueOverride, _ := job.Params["queue"].(string)
	countdownSecs, _ := job.Params["countdown"].(float64)

	job.RequestRetry(queueOverride, time.Duration(countdownSecs*float64(time.Second)))
	return nil, fmt.Errorf("retry requested")
}

func raiseExceptionHandler(ctx context.Context, job *task.Job) (map[string]interface{}, error) {
	message, _ := job.Params["message"].(string)
	if message == "" {
		message = "task raised an exception"
	}
	return nil, fmt.Errorf("%s", message)
}

// startProfile gates a cumulative-sort CPU profile on the `profile`
// config key. path is the file the profile is written to; an empty
// path disables profiling entirely (checked by the caller before this
// is invoked).
func startProfile(path string, log zerolog.Logger) func() {
	f, err := os.Create(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to create CPU profile output")
		return nil
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		log.Error().Err(err).Msg("failed to start CPU profile")
		f.Close()
		return nil
	}

	return func() {
		pprof.StopCPUProfile()
		f.Close()
		log.Info().Str("path", path).Msg("CPU profile written")
	}
}
