package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveFallsBackToDefaultTimeout(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	r.RegisterFunc("add", func(ctx context.Context, j *Job) (map[string]interface{}, error) {
		return nil, nil
	}, 0)

	spec, ok := r.Resolve("add")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, spec.Timeout)
}

func TestRegistry_ResolveHonorsDeclaredTimeout(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	r.RegisterFunc("slow", func(ctx context.Context, j *Job) (map[string]interface{}, error) {
		return nil, nil
	}, 5*time.Second)

	spec, ok := r.Resolve("slow")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, spec.Timeout)
}

func TestRegistry_ResolveUnknownPath(t *testing.T) {
	r := NewRegistry(time.Second)
	_, ok := r.Resolve("nope")
	assert.False(t, ok)
}

func TestTaskSpec_Retryable(t *testing.T) {
	r := NewRegistry(time.Second)
	r.RegisterFunc("flaky", nil, time.Second, "transient", "io")

	spec, ok := r.Resolve("flaky")
	require.True(t, ok)
	assert.True(t, spec.Retryable("transient"))
	assert.True(t, spec.Retryable("io"))
	assert.False(t, spec.Retryable("permanent"))
}

func TestRegistry_Paths(t *testing.T) {
	r := NewRegistry(time.Second)
	r.RegisterFunc("a", nil, time.Second)
	r.RegisterFunc("b", nil, time.Second)

	assert.ElementsMatch(t, []string{"a", "b"}, r.Paths())
}
