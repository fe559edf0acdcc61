package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinition_Due_Interval(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	d := &Definition{Interval: time.Minute, LastEnqueuedAt: now.Add(-90 * time.Second)}
	due, err := d.Due(now)
	require.NoError(t, err)
	assert.True(t, due)

	d2 := &Definition{Interval: time.Minute, LastEnqueuedAt: now.Add(-30 * time.Second)}
	due2, err := d2.Due(now)
	require.NoError(t, err)
	assert.False(t, due2)
}

func TestDefinition_Due_NoSchedule(t *testing.T) {
	d := &Definition{}
	due, err := d.Due(time.Now())
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDefinition_Due_Cron(t *testing.T) {
	// Every minute.
	now := time.Date(2026, 1, 1, 12, 1, 30, 0, time.UTC)
	d := &Definition{CronExpr: "* * * * *", LastEnqueuedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	due, err := d.Due(now)
	require.NoError(t, err)
	assert.True(t, due, "a minute has elapsed since last_enqueued_at")
}

func TestDefinition_Due_CronNotYet(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	d := &Definition{CronExpr: "* * * * *", LastEnqueuedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	due, err := d.Due(now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDefinition_Due_InvalidCron(t *testing.T) {
	d := &Definition{CronExpr: "not a cron expression"}
	_, err := d.Due(time.Now())
	assert.Error(t, err)
}
