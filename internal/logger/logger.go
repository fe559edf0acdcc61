// Package logger is the process-local console sink: zerolog writers
// scoped per component, worker, job, and queue. Durable, per-job log
// shipping lives in internal/logging; this package is only what an
// operator watches on stdout.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init configures the console sink. quiet raises the global level to
// fatal rather than disabling the logger outright: a disabled zerolog
// logger silently skips Fatal's os.Exit, which would swallow the
// non-zero exit a startup failure must produce.
func Init(level string, pretty, quiet bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if quiet {
		lvl = zerolog.FatalLevel
	}

	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

func Get() *zerolog.Logger {
	return &log
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func WithWorker(workerID string) zerolog.Logger {
	return log.With().Str("worker_id", workerID).Logger()
}

func WithJob(jobID string) zerolog.Logger {
	return log.With().Str("job_id", jobID).Logger()
}

func WithQueue(queue string) zerolog.Logger {
	return log.With().Str("queue", queue).Logger()
}

// Convenience methods
func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
