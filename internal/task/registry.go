package task

import (
	"context"
	"sync"
	"time"
)

// Handler executes a job's declared work and returns its result.
type Handler func(ctx context.Context, job *Job) (map[string]interface{}, error)

// TaskSpec is what the registry resolves a task path to: an executable
// unit plus its declared timeout and the failure classifier tags that
// trigger a retry rather than a terminal failure.
type TaskSpec struct {
	Path    string
	Handler Handler
	Timeout time.Duration
	RetryOn map[string]struct{}
}

// Retryable reports whether a classifier tag is in this spec's
// declared retry set.
func (s TaskSpec) Retryable(classifierTag string) bool {
	_, ok := s.RetryOn[classifierTag]
	return ok
}

// Registry is a compile-time registration table mapping a task path
// string to a TaskSpec; dynamic symbol resolution would be the wrong
// substrate for a language-independent path identifier.
type Registry struct {
	mu                sync.RWMutex
	specs             map[string]TaskSpec
	defaultJobTimeout time.Duration
}

func NewRegistry(defaultJobTimeout time.Duration) *Registry {
	return &Registry{
		specs:             make(map[string]TaskSpec),
		defaultJobTimeout: defaultJobTimeout,
	}
}

// Register adds a task spec. A zero Timeout falls back to the
// registry's configured default_job_timeout.
func (r *Registry) Register(spec TaskSpec) {
	if spec.Timeout <= 0 {
		spec.Timeout = r.defaultJobTimeout
	}
	if spec.RetryOn == nil {
		spec.RetryOn = map[string]struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Path] = spec
}

// RegisterFunc is sugar for registering a handler with retry tags.
func (r *Registry) RegisterFunc(path string, handler Handler, timeout time.Duration, retryOn ...string) {
	tags := make(map[string]struct{}, len(retryOn))
	for _, t := range retryOn {
		tags[t] = struct{}{}
	}
	r.Register(TaskSpec{Path: path, Handler: handler, Timeout: timeout, RetryOn: tags})
}

func (r *Registry) Resolve(path string) (TaskSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[path]
	return spec, ok
}

func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.specs))
	for p := range r.specs {
		paths = append(paths, p)
	}
	return paths
}
