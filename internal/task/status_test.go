package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusQueued, "queued"},
		{StatusStarted, "started"},
		{StatusSuccess, "success"},
		{StatusFailed, "failed"},
		{StatusTimeout, "timeout"},
		{StatusInterrupt, "interrupt"},
		{StatusRetry, "retry"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusStarted, StatusSuccess, StatusFailed, StatusTimeout, StatusInterrupt, StatusRetry} {
		assert.Equal(t, s, ParseStatus(s.String()))
	}
	assert.Equal(t, StatusQueued, ParseStatus("garbage"))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusTimeout.IsTerminal())
	assert.True(t, StatusInterrupt.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusStarted.IsTerminal())
	assert.False(t, StatusRetry.IsTerminal())
}

func TestStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, StatusQueued.CanTransitionTo(StatusStarted))
	assert.False(t, StatusQueued.CanTransitionTo(StatusSuccess))

	assert.True(t, StatusStarted.CanTransitionTo(StatusSuccess))
	assert.True(t, StatusStarted.CanTransitionTo(StatusFailed))
	assert.True(t, StatusStarted.CanTransitionTo(StatusTimeout))
	assert.True(t, StatusStarted.CanTransitionTo(StatusInterrupt))
	assert.True(t, StatusStarted.CanTransitionTo(StatusRetry))
	assert.False(t, StatusStarted.CanTransitionTo(StatusQueued))

	assert.True(t, StatusRetry.CanTransitionTo(StatusQueued))
	assert.False(t, StatusRetry.CanTransitionTo(StatusStarted))

	for _, terminal := range []Status{StatusSuccess, StatusFailed, StatusTimeout, StatusInterrupt} {
		assert.False(t, terminal.CanTransitionTo(StatusStarted), "terminal state %s must not transition", terminal)
	}
}
