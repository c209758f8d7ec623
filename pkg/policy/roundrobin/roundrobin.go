// Package roundrobin implements the time-sliced FIFO scheduling policy: a
// single ready queue, a configurable time slice, and a starvation boost
// that moves a long-waiting task to the head of the queue at most once
// per select_next visit.
package roundrobin

import (
	"sync"
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/queue"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// DefaultTimeSliceMs is the default time slice length.
const DefaultTimeSliceMs = 10

// Config configures a Policy instance.
type Config struct {
	NodePoolSize int
	// TimeSliceMs is the default slice length. When DynamicSlice is
	// enabled it is the upper bound, divided by the ready-queue depth.
	TimeSliceMs int
	// StarvationThresholdMs is the accumulated-wait threshold above which
	// a node is boosted to the head on the next select_next call. Zero
	// disables starvation boosting.
	StarvationThresholdMs int
	// DynamicSlice adjusts the slice length in inverse proportion to
	// queue depth: short slices under load, long under low load.
	DynamicSlice bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.NodePoolSize <= 0 {
		out.NodePoolSize = 256
	}
	if out.TimeSliceMs <= 0 {
		out.TimeSliceMs = DefaultTimeSliceMs
	}
	return out
}

// Policy implements policy.Policy for round-robin scheduling.
type Policy struct {
	mu  sync.Mutex
	cfg Config

	pool  *queue.Pool
	ready *queue.Queue

	running        *tcb.TCB
	sliceRemaining int

	started bool
	stats   policy.Stats
}

// New builds a round-robin Policy. cfg may be nil to take all defaults.
func New(cfg *Config) *Policy {
	var c Config
	if cfg != nil {
		c = cfg.withDefaults()
	} else {
		c = (&Config{}).withDefaults()
	}
	return &Policy{cfg: c}
}

func (p *Policy) ID() policy.ID { return policy.RoundRobin }

func (p *Policy) Capabilities() policy.Capabilities {
	return policy.Capabilities{
		QueueKind:             policy.SingleFIFO,
		SupportsInheritance:   false,
		SupportsAging:         false,
		StatePreservationSize: p.cfg.NodePoolSize * 64,
	}
}

func (p *Policy) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return errs.New(errs.AlreadyInitialized, "round-robin policy already initialized")
	}
	p.pool = queue.NewPool(p.cfg.NodePoolSize)
	p.ready = queue.NewQueue(p.pool)
	return nil
}

func (p *Policy) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return errs.New(errs.NotInitialized, "round-robin policy not initialized")
	}
	p.started = true
	return nil
}

func (p *Policy) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}

func (p *Policy) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool = queue.NewPool(p.cfg.NodePoolSize)
	p.ready = queue.NewQueue(p.pool)
	p.running = nil
	p.sliceRemaining = 0
	p.stats = policy.Stats{}
	return nil
}

// AddTask allocates a node and appends it to the tail.
func (p *Policy) AddTask(t *tcb.TCB) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.pool.Alloc(t)
	if err != nil {
		return err
	}
	p.ready.PushBack(slot)
	t.State = tcb.Ready
	p.stats.TotalEnqueued++
	return nil
}

// currentSliceMs computes the active slice length, honoring dynamic-slice
// mode: short slices under load, long under low load.
func (p *Policy) currentSliceMs() int {
	if !p.cfg.DynamicSlice {
		return p.cfg.TimeSliceMs
	}
	depth := int(p.ready.Count())
	if depth <= 1 {
		return p.cfg.TimeSliceMs
	}
	slice := p.cfg.TimeSliceMs / depth
	if slice < 1 {
		slice = 1
	}
	return slice
}

// Schedule selects the next task to run: requeue the previous running
// task (if still Ready and not trivially reselected), apply at most one
// starvation boost, then pop the head.
func (p *Policy) Schedule() (*tcb.TCB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.running
	if prev != nil && prev.State == tcb.Ready {
		slot, err := p.pool.Alloc(prev)
		if err != nil {
			return nil, err
		}
		p.ready.PushBack(slot)
	}
	p.running = nil

	if p.cfg.StarvationThresholdMs > 0 {
		p.applyStarvationBoost()
	}

	slot, ok := p.ready.PopFront()
	if !ok {
		return nil, nil
	}
	node := p.pool.Get(slot)
	next := node.Task
	p.pool.Free(slot)

	next.State = tcb.Running
	p.running = next
	p.sliceRemaining = p.currentSliceMs()
	p.stats.TotalScheduled++
	return next, nil
}

// applyStarvationBoost scans the queue for the first node whose
// accumulated wait exceeds the threshold and moves it to the head. Called
// at most once per Schedule call.
func (p *Policy) applyStarvationBoost() {
	var boostSlot int32 = -1
	p.ready.Each(func(slot int32, n *queue.Node) {
		if boostSlot != -1 {
			return
		}
		if int(n.AgeCount) > p.cfg.StarvationThresholdMs {
			boostSlot = slot
		}
	})
	if boostSlot == -1 {
		return
	}
	p.ready.Remove(boostSlot)
	node := p.pool.Get(boostSlot)
	node.BoostCount++
	node.AgeCount = 0
	p.ready.PushFront(boostSlot)
	p.stats.StarvationBoosts++
}

// RemoveTask performs a linear scan to locate t. Used on task deletion or
// migration, which are not hot-path operations.
func (p *Policy) RemoveTask(t *tcb.TCB) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running == t {
		p.running = nil
		return nil
	}

	var found int32 = -1
	p.ready.Each(func(slot int32, n *queue.Node) {
		if found == -1 && n.Task == t {
			found = slot
		}
	})
	if found == -1 {
		return errs.New(errs.NotFound, "task not present in round-robin ready queue")
	}
	p.ready.Remove(found)
	p.pool.Free(found)
	return nil
}

// Tick decrements the running task's remaining slice and increments every
// queued node's accumulated-wait counter.
func (p *Policy) Tick(now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalTicks++

	p.ready.Each(func(slot int32, n *queue.Node) {
		n.AgeCount++
	})

	if p.running == nil {
		return false, nil
	}

	p.sliceRemaining--
	if p.sliceRemaining <= 0 {
		return true, nil
	}
	return false, nil
}

func (p *Policy) GetStats() policy.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// SaveState snapshots the ready queue in dequeue order, the order a
// PreserveOrder migration is expected to replicate in the target policy.
func (p *Policy) SaveState() (policy.SavedState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := policy.SavedState{Policy: policy.RoundRobin}
	pos := 0
	p.ready.Each(func(slot int32, n *queue.Node) {
		state.Tasks = append(state.Tasks, policy.SavedTask{Task: n.Task, Position: pos})
		pos++
	})
	return state, nil
}

// RestoreState re-admits every task from the snapshot, in original order.
func (p *Policy) RestoreState(state policy.SavedState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pool = queue.NewPool(p.cfg.NodePoolSize)
	p.ready = queue.NewQueue(p.pool)
	p.running = nil

	for _, st := range state.Tasks {
		slot, err := p.pool.Alloc(st.Task)
		if err != nil {
			return err
		}
		p.ready.PushBack(slot)
		st.Task.State = tcb.Ready
	}
	return nil
}

// ReadyCount returns the number of tasks currently in the ready queue
// (diagnostic / test helper).
func (p *Policy) ReadyCount() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready.Count()
}

// AddTaskAtHead implements migration.HeadEnqueuer: it admits t at the head
// of the ready queue rather than the tail, used by the deadline-based
// migration strategy for imminent deadlines.
func (p *Policy) AddTaskAtHead(t *tcb.TCB) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.pool.Alloc(t)
	if err != nil {
		return err
	}
	p.ready.PushFront(slot)
	t.State = tcb.Ready
	p.stats.TotalEnqueued++
	return nil
}
