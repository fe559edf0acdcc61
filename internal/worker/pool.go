package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/queueworks/taskqueue/internal/task"
)

var ErrPoolFull = errors.New("worker: no free slot in pool")

// Slot is one unit of concurrent execution capacity. Its job and
// phase fields are task-local storage the Monitoring Loop reads via
// Pool.Iter — never a global map keyed by goroutine identity.
type Slot struct {
	id     int
	active atomic.Bool
	job    atomic.Pointer[task.Job]
	phase  atomic.Pointer[string]
	since  atomic.Pointer[time.Time]
	cancel context.CancelCauseFunc
}

func (s *Slot) ID() int { return s.id }

func (s *Slot) setJob(j *task.Job) {
	s.job.Store(j)
	now := time.Now().UTC()
	s.since.Store(&now)
}

func (s *Slot) clear() {
	s.job.Store(nil)
	s.since.Store(nil)
	s.setPhase("")
}

func (s *Slot) setPhase(p string) {
	s.phase.Store(&p)
}

// SlotSnapshot is what the Monitoring Loop reads for introspection:
// since Go exposes no per-goroutine stack API to application code,
// it records the slot's current execution phase instead of a raw
// call-stack capture.
type SlotSnapshot struct {
	SlotID    int
	Job       *task.Job
	Phase     string
	StartedAt *time.Time
}

// Pool is the bounded cooperative pool of execution slots. Parallelism
// here is goroutine-per-slot rather than single-threaded cooperative
// multitasking, provided cancellation and slot accounting remain
// correct.
type Pool struct {
	slots []*Slot
	wg    sync.WaitGroup
	mu    sync.Mutex // serializes slot-claiming so FreeCount/Spawn never race
}

func NewPool(size int) *Pool {
	slots := make([]*Slot, size)
	for i := range slots {
		slots[i] = &Slot{id: i}
	}
	return &Pool{slots: slots}
}

// FreeCount returns the number of available slots.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCountLocked()
}

func (p *Pool) freeCountLocked() int {
	n := 0
	for _, s := range p.slots {
		if !s.active.Load() {
			n++
		}
	}
	return n
}

func (p *Pool) Size() int { return len(p.slots) }

// Spawn claims a free slot and runs fn in a new goroutine, passing it
// a context derived from ctx that Kill can cancel with a cause. It
// returns ErrPoolFull if no slot is free — the Worker Loop never calls
// Spawn without a positive FreeCount observed moments earlier.
func (p *Pool) Spawn(ctx context.Context, fn func(slotCtx context.Context, slot *Slot)) error {
	p.mu.Lock()
	var claimed *Slot
	for _, s := range p.slots {
		if !s.active.Load() {
			s.active.Store(true)
			claimed = s
			break
		}
	}
	p.mu.Unlock()

	if claimed == nil {
		return ErrPoolFull
	}

	slotCtx, cancel := context.WithCancelCause(ctx)
	claimed.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			claimed.clear()
			claimed.cancel = nil
			claimed.active.Store(false)
		}()
		fn(slotCtx, claimed)
		cancel(nil)
	}()

	return nil
}

// Join blocks until all slots drain or ctx is done — a nil-deadline
// ctx blocks indefinitely.
func (p *Pool) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill injects reason into every live slot's context at its next
// suspension point (Go: the next point the slot's goroutine checks
// ctx.Done() or ctx.Err(), typically a backend I/O call). If block,
// it waits for all slots to exit.
func (p *Pool) Kill(reason error, block bool) {
	p.mu.Lock()
	for _, s := range p.slots {
		if s.active.Load() && s.cancel != nil {
			s.cancel(reason)
		}
	}
	p.mu.Unlock()

	if block {
		_ = p.Join(context.Background())
	}
}

// Iter returns a snapshot of every currently-live slot, for the
// Monitoring Loop.
func (p *Pool) Iter() []SlotSnapshot {
	snaps := make([]SlotSnapshot, 0, len(p.slots))
	for _, s := range p.slots {
		if !s.active.Load() {
			continue
		}
		snap := SlotSnapshot{SlotID: s.id}
		if j := s.job.Load(); j != nil {
			snap.Job = j
		}
		if ph := s.phase.Load(); ph != nil {
			snap.Phase = *ph
		}
		if since := s.since.Load(); since != nil {
			snap.StartedAt = since
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// ActiveCount reports the number of slots currently bound to work.
func (p *Pool) ActiveCount() int {
	n := 0
	for _, s := range p.slots {
		if s.active.Load() {
			n++
		}
	}
	return n
}
