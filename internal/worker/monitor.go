package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/queueworks/taskqueue/internal/metrics"
)

const heartbeatKeyPrefix = "worker:"

// whitelistedConfigKeys enumerates exactly which config fields are
// safe to publish in a heartbeat record. This is a positive
// enumeration, never a blacklist of fields to exclude — a newly added
// config field is omitted by default instead of accidentally leaking
// (e.g. a future secret) until someone remembers to blacklist it.
var whitelistedConfigKeys = []string{"queues", "pool_size", "max_jobs", "name"}

// SlotHeartbeat is the per-slot entry of a heartbeat record: since Go
// has no per-goroutine stack introspection API, it carries the slot's
// bound job and execution phase instead of a raw stack frame.
type SlotHeartbeat struct {
	SlotID    int        `json:"slot_id"`
	JobID     string     `json:"job_id,omitempty"`
	Path      string     `json:"path,omitempty"`
	Phase     string     `json:"phase,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// HeartbeatRecord is published every ReportInterval.
type HeartbeatRecord struct {
	WorkerID   string                 `json:"worker_id"`
	Name       string                 `json:"name"`
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	StartedAt  time.Time              `json:"started_at"`
	DoneJobs   int64                  `json:"done_jobs"`
	FreeSlots  int                    `json:"free_slots"`
	TotalSlots int                    `json:"total_slots"`
	PID        int32                  `json:"pid"`
	CPUUser    float64                `json:"cpu_user_seconds"`
	CPUSystem  float64                `json:"cpu_system_seconds"`
	CPUPercent float64                `json:"cpu_percent"`
	MemoryRSS  uint64                 `json:"memory_rss_bytes"`
	Config     map[string]interface{} `json:"config"`
	Slots      []SlotHeartbeat        `json:"slots"`
}

// Monitor implements the Monitoring Loop: the periodic loop that
// samples process metrics via gopsutil and publishes a heartbeat to
// the state backend at the configured durability.
type Monitor struct {
	client   *redis.Client
	identity *Identity
	pool     *Pool
	loop     *Loop
	interval time.Duration
	quiet    bool
	config   map[string]interface{}
	logs     flusher
	log      zerolog.Logger

	stopCh chan struct{}
	done   chan struct{}
}

func NewMonitor(client *redis.Client, identity *Identity, pool *Pool, loop *Loop, interval time.Duration, quiet bool, config map[string]interface{}, logs flusher, log zerolog.Logger) *Monitor {
	whitelisted := make(map[string]interface{}, len(whitelistedConfigKeys))
	for _, key := range whitelistedConfigKeys {
		if v, ok := config[key]; ok {
			whitelisted[key] = v
		}
	}

	return &Monitor{
		client:   client,
		identity: identity,
		pool:     pool,
		loop:     loop,
		interval: interval,
		quiet:    quiet,
		config:   whitelisted,
		logs:     logs,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the monitoring loop in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop requests the loop to exit and blocks until it has, performing
// one final synchronous (durability 1) heartbeat flush, as the
// shutdown finalizer requires.
func (m *Monitor) Stop(ctx context.Context) {
	close(m.stopCh)
	<-m.done
	_ = m.publish(ctx, 1)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.publish(ctx, 0); err != nil && !m.quiet {
				m.log.Error().Err(err).Msg("heartbeat publish failed")
			}
			if m.logs != nil {
				if err := m.logs.Flush(ctx, 0); err != nil && !m.quiet {
					m.log.Error().Err(err).Msg("best-effort log flush failed")
				}
			}
		}
	}
}

func (m *Monitor) publish(ctx context.Context, durability int) error {
	record := m.snapshot()

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	cmd := m.client.Set(ctx, heartbeatKeyPrefix+m.identity.ID, data, 2*m.interval)

	if durability >= 1 {
		return cmd.Err()
	}
	// Best-effort (durability 0): the command above already ran
	// synchronously against the connection pool, so the caller simply
	// doesn't propagate its error.
	return nil
}

func (m *Monitor) snapshot() HeartbeatRecord {
	var (
		pid                int32
		cpuUser, cpuSystem float64
		cpuPercent         float64
		rss                uint64
	)

	if m.identity.Process != nil {
		pid = m.identity.Process.Pid
		if times, err := m.identity.Process.Times(); err == nil && times != nil {
			cpuUser = times.User
			cpuSystem = times.System
		}
		if pct, err := m.identity.Process.CPUPercent(); err == nil {
			cpuPercent = pct
		}
		if memInfo, err := m.identity.Process.MemoryInfo(); err == nil && memInfo != nil {
			rss = memInfo.RSS
		}
	}

	slotSnaps := m.pool.Iter()
	slots := make([]SlotHeartbeat, 0, len(slotSnaps))
	for _, s := range slotSnaps {
		hb := SlotHeartbeat{SlotID: s.SlotID, Phase: s.Phase, StartedAt: s.StartedAt}
		if s.Job != nil {
			hb.JobID = s.Job.ID
			hb.Path = s.Job.Path
		}
		slots = append(slots, hb)
	}

	metrics.SetActiveWorkers(float64(m.pool.ActiveCount()))

	return HeartbeatRecord{
		WorkerID:   m.identity.ID,
		Name:       m.identity.Name,
		Status:     m.loop.State().String(),
		Timestamp:  time.Now().UTC(),
		StartedAt:  m.identity.StartedAt,
		DoneJobs:   m.loop.DoneJobs(),
		FreeSlots:  m.pool.FreeCount(),
		TotalSlots: m.pool.Size(),
		PID:        pid,
		CPUUser:    cpuUser,
		CPUSystem:  cpuSystem,
		CPUPercent: cpuPercent,
		MemoryRSS:  rss,
		Config:     m.config,
		Slots:      slots,
	}
}
