package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
)

// Identity is the worker's immutable-per-process identifier: an
// opaque ID, a human-readable name (host.pid by default or an
// explicit override), and a process handle for metrics.
type Identity struct {
	ID        string
	Name      string
	StartedAt time.Time
	Process   *process.Process
}

// NewIdentity builds a worker Identity. name, when empty, falls back
// to "<hostname>.<pid>".
func NewIdentity(name string) (*Identity, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("read process handle: %w", err)
	}

	if name == "" {
		name = defaultName()
	}

	return &Identity{
		ID:        uuid.New().String(),
		Name:      name,
		StartedAt: time.Now().UTC(),
		Process:   proc,
	}, nil
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s.%d", host, os.Getpid())
}
