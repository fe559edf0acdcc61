package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdown implements the Shutdown Controller's two-stage protocol: a
// first SIGINT requests a graceful stop (queues stop accepting new
// dispatches, in-flight jobs run to completion or their own timeout);
// a second SIGINT, or any SIGTERM, forces an immediate Kill of every
// in-flight slot. The finalizer — draining the pool, stopping the
// scheduler and monitor, and a final synchronous log/heartbeat flush —
// always runs regardless of which path triggered it.
type Shutdown struct {
	pool       *Pool
	loop       *Loop
	cancelLoop context.CancelFunc
	monitor    *Monitor
	scheduler  stoppable
	logs       flusher
	log        zerolog.Logger
}

// stoppable and flusher are minimal local interfaces so shutdown.go
// doesn't need to import internal/scheduler or internal/logging
// directly; cmd/worker wires the concrete *scheduler.Scheduler and
// *logging.Handler in.
type stoppable interface {
	Stop()
}

type flusher interface {
	Flush(ctx context.Context, durability int) error
}

func NewShutdown(pool *Pool, loop *Loop, cancelLoop context.CancelFunc, monitor *Monitor, scheduler stoppable, logs flusher, log zerolog.Logger) *Shutdown {
	return &Shutdown{pool: pool, loop: loop, cancelLoop: cancelLoop, monitor: monitor, scheduler: scheduler, logs: logs, log: log}
}

func (s *Shutdown) setState(state State) {
	if s.loop != nil {
		s.loop.setState(state)
	}
}

// Listen blocks until SIGINT, SIGTERM, or ctx is cancelled by some
// other means (e.g. the Worker Loop stopping on its own after
// max_jobs), runs the shutdown protocol, and returns once the
// finalizer has completed — the finalizer always runs, regardless of
// which path got it here. A graceful shutdown has no deadline: it
// blocks on Pool.Join until every in-flight job finishes on its own
// (or hits its own job timeout), unless a second SIGINT or a SIGTERM
// arrives first, which escalates to a forced shutdown immediately.
func (s *Shutdown) Listen(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		// The loop already stopped on its own; nothing left to cancel,
		// but the finalizer below still must run.
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			s.log.Warn().Msg("SIGTERM received, forcing immediate shutdown")
			s.forced(ctx)
			break
		}

		s.log.Info().Msg("SIGINT received, requesting graceful shutdown (press again to force)")
		s.graceful()

		joinDone := make(chan struct{})
		go func() {
			_ = s.pool.Join(context.Background())
			close(joinDone)
		}()

		select {
		case sig := <-sigCh:
			if sig == syscall.SIGTERM {
				s.log.Warn().Msg("SIGTERM received during graceful shutdown, forcing immediate shutdown")
			} else {
				s.log.Warn().Msg("second interrupt received, forcing shutdown")
			}
			s.forced(ctx)
		case <-joinDone:
			s.log.Info().Msg("all in-flight jobs completed, shutting down cleanly")
		}
	}

	s.finalize(ctx)
}

// graceful stops the Worker Loop from dispatching new jobs; slots
// already running continue to completion or their own timeout.
func (s *Shutdown) graceful() {
	s.setState(StateStopping)
	s.cancelLoop()
}

// forced cancels the loop (if not already) and kills every live slot
// with ErrShutdownInterrupt, blocking until they exit.
func (s *Shutdown) forced(ctx context.Context) {
	s.setState(StateKilling)
	s.cancelLoop()
	s.pool.Kill(ErrShutdownInterrupt, true)
}

// finalize runs unconditionally after every shutdown path: drain the
// pool (the loop may have stopped on its own — e.g. max_jobs — with
// its last dispatched jobs still in flight, a path that has had no
// join yet), reap any stragglers, stop the scheduler, stop the
// monitor (which itself performs one final durability-1 heartbeat
// write, published with status stopping), and flush any buffered logs
// synchronously.
func (s *Shutdown) finalize(ctx context.Context) {
	s.setState(StateStopping)

	_ = s.pool.Join(context.Background())
	s.pool.Kill(ErrShutdownInterrupt, true)

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.monitor != nil {
		s.monitor.Stop(finalCtx)
	}
	if s.logs != nil {
		if err := s.logs.Flush(finalCtx, 1); err != nil {
			s.log.Error().Err(err).Msg("final log flush failed")
		}
	}

	s.log.Info().Msg("shutdown finalizer complete")
}
