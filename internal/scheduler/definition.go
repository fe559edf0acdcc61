package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Definition is a scheduled job definition: a task path
// and params materialized into a queue whenever its schedule comes
// due, plus the bookkeeping needed to enqueue at most once per cycle.
type Definition struct {
	Name           string                 `json:"name"`
	Path           string                 `json:"path"`
	Params         map[string]interface{} `json:"params"`
	Queue          string                 `json:"queue"`
	Interval       time.Duration          `json:"interval,omitempty"`
	CronExpr       string                 `json:"cron,omitempty"`
	LastEnqueuedAt time.Time              `json:"last_enqueued_at"`

	schedule cron.Schedule
}

// parseSchedule lazily builds the cron.Schedule for a cron-expression
// definition, caching it on the struct.
func (d *Definition) parseSchedule() (cron.Schedule, error) {
	if d.CronExpr == "" {
		return nil, nil
	}
	if d.schedule != nil {
		return d.schedule, nil
	}
	sched, err := cron.ParseStandard(d.CronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", d.CronExpr, err)
	}
	d.schedule = sched
	return sched, nil
}

// Due reports whether this definition should fire given the current
// time. Interval-based definitions fire when Interval has elapsed
// since LastEnqueuedAt; cron-based definitions fire once their next
// scheduled occurrence after LastEnqueuedAt has passed. Missed
// intervals never accumulate — at most one firing per Check cycle.
func (d *Definition) Due(now time.Time) (bool, error) {
	if d.CronExpr != "" {
		sched, err := d.parseSchedule()
		if err != nil {
			return false, err
		}
		next := sched.Next(d.LastEnqueuedAt)
		return !next.After(now), nil
	}

	if d.Interval <= 0 {
		return false, nil
	}
	return now.Sub(d.LastEnqueuedAt) >= d.Interval, nil
}

func (d *Definition) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

func FromJSON(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
