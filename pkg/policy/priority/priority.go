// Package priority implements the 256-level static-priority scheduling
// policy: O(1) selection via the priority bitmap, priority inheritance,
// and periodic aging to bound starvation.
package priority

import (
	"sync"
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/queue"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// Config configures a Policy instance.
type Config struct {
	NodePoolSize         int
	InheritanceEnabled   bool
	InheritanceTableSize int
	MaxInheritanceDepth  int
	AgingEnabled         bool
	AgingPeriodMs        int
	AgingThresholdMs     int
	AgingBoostAmount     int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.NodePoolSize <= 0 {
		out.NodePoolSize = 256
	}
	if out.InheritanceTableSize <= 0 {
		out.InheritanceTableSize = 64
	}
	if out.MaxInheritanceDepth <= 0 {
		out.MaxInheritanceDepth = 8
	}
	if out.AgingBoostAmount <= 0 {
		out.AgingBoostAmount = 20
	}
	return out
}

// Policy implements policy.Policy for 256-level static priority scheduling.
type Policy struct {
	mu  sync.Mutex
	cfg Config

	pool   *queue.Pool
	levels [tcb.PriorityLevels]*queue.Queue
	bitmap *tcb.Bitmap

	inherit    inheritanceTable
	lastAging  time.Time
	started    bool
	stats      policy.Stats
}

// New builds a priority Policy. cfg may be nil to take all defaults.
func New(cfg *Config) *Policy {
	var c Config
	if cfg != nil {
		c = cfg.withDefaults()
	} else {
		c = (&Config{}).withDefaults()
	}
	return &Policy{cfg: c}
}

func (p *Policy) ID() policy.ID { return policy.Priority }

func (p *Policy) Capabilities() policy.Capabilities {
	return policy.Capabilities{
		QueueKind:             policy.PerPriorityFIFO,
		SupportsInheritance:   p.cfg.InheritanceEnabled,
		SupportsAging:         p.cfg.AgingEnabled,
		StatePreservationSize: p.cfg.NodePoolSize * 64,
	}
}

func (p *Policy) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return errs.New(errs.AlreadyInitialized, "priority policy already initialized")
	}
	p.resetLocked()
	return nil
}

func (p *Policy) resetLocked() {
	p.pool = queue.NewPool(p.cfg.NodePoolSize)
	for i := range p.levels {
		p.levels[i] = queue.NewQueue(p.pool)
	}
	p.bitmap = tcb.NewBitmap()
	p.inherit = newInheritanceTable(p.cfg.InheritanceTableSize)
	p.lastAging = time.Time{}
}

func (p *Policy) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return errs.New(errs.NotInitialized, "priority policy not initialized")
	}
	p.started = true
	p.lastAging = time.Now()
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
	p.resetLocked()
	p.stats = policy.Stats{}
	return nil
}

// AddTask enqueues t at the tail of the per-level queue for its current
// effective priority.
func (p *Policy) AddTask(t *tcb.TCB) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueueLocked(t, int(t.EffectivePriority))
}

func (p *Policy) enqueueLocked(t *tcb.TCB, level int) error {
	slot, err := p.pool.Alloc(t)
	if err != nil {
		return err
	}
	node := p.pool.Get(slot)
	node.Level = level
	p.levels[level].PushBack(slot)
	p.bitmap.Set(level)
	t.State = tcb.Ready
	p.stats.TotalEnqueued++
	return nil
}

// Schedule selects the next task to run: O(1) selection via FFS, then a
// periodic aging pass on period boundaries.
func (p *Policy) Schedule() (*tcb.TCB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	level := p.bitmap.FFS()
	if level == tcb.PriorityLevels {
		p.maybeRunAgingLocked(time.Now())
		return nil, nil
	}

	slot, ok := p.levels[level].PopFront()
	if !ok {
		// Bitmap/queue mismatch would be a Fatal invariant breach in the
		// real kernel; here we defend by clearing the stale bit.
		p.bitmap.Clear(level)
		return nil, nil
	}
	node := p.pool.Get(slot)
	next := node.Task
	p.pool.Free(slot)
	if p.levels[level].Empty() {
		p.bitmap.Clear(level)
	}

	next.State = tcb.Running
	p.stats.TotalScheduled++

	p.maybeRunAgingLocked(time.Now())
	return next, nil
}

func (p *Policy) maybeRunAgingLocked(now time.Time) {
	if !p.cfg.AgingEnabled {
		return
	}
	if p.lastAging.IsZero() {
		p.lastAging = now
		return
	}
	if now.Sub(p.lastAging) < time.Duration(p.cfg.AgingPeriodMs)*time.Millisecond {
		return
	}
	p.runAgingLocked(now)
	p.lastAging = now
}

// runAgingLocked runs one aging pass: each non-highest occupied level is
// scanned once; nodes waiting longer than the threshold advance by at
// most boost_amount levels, landing at the tail of their new level so
// aging never reorders peers.
func (p *Policy) runAgingLocked(now time.Time) {
	for level := 1; level < tcb.PriorityLevels; level++ {
		if !p.bitmap.Test(level) {
			continue
		}
		q := p.levels[level]
		var toMove []int32
		q.Each(func(slot int32, n *queue.Node) {
			if now.Sub(n.EnqueueTime) > time.Duration(p.cfg.AgingThresholdMs)*time.Millisecond {
				toMove = append(toMove, slot)
			}
		})
		for _, slot := range toMove {
			node := p.pool.Get(slot)
			if node == nil {
				continue
			}
			newLevel := level - p.cfg.AgingBoostAmount
			if newLevel < 0 {
				newLevel = 0
			}
			if newLevel >= level {
				continue
			}
			task := node.Task
			ageCount := node.AgeCount + 1

			q.Remove(slot)
			p.pool.Free(slot)

			newSlot, err := p.pool.Alloc(task)
			if err != nil {
				// Pool momentarily exhausted mid-aging: leave the task to
				// be picked up by the next aging pass rather than losing
				// it; it has already been freed from its old slot, so
				// requeue it at its original level to avoid dropping it.
				newSlot, err = p.pool.Alloc(task)
				if err != nil {
					continue
				}
				node = p.pool.Get(newSlot)
				node.Level = level
				node.AgeCount = ageCount
				q.PushBack(newSlot)
				continue
			}
			node = p.pool.Get(newSlot)
			node.Level = newLevel
			node.AgeCount = ageCount
			p.levels[newLevel].PushBack(newSlot)
			p.bitmap.Set(newLevel)
			task.EffectivePriority = uint8(newLevel)
			p.stats.AgingAdjustments++
		}
		if q.Empty() {
			p.bitmap.Clear(level)
		}
	}
}

// RemoveTask locates t by scanning occupied levels.
func (p *Policy) RemoveTask(t *tcb.TCB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, level, found := p.findLocked(t)
	if !found {
		return errs.New(errs.NotFound, "task not present in priority ready queues")
	}
	p.levels[level].Remove(slot)
	p.pool.Free(slot)
	if p.levels[level].Empty() {
		p.bitmap.Clear(level)
	}
	return nil
}

// findLocked scans only occupied levels (via FFS-style bitmap pruning) for
// the slot currently holding t.
func (p *Policy) findLocked(t *tcb.TCB) (slot int32, level int, found bool) {
	for lvl := 0; lvl < tcb.PriorityLevels; lvl++ {
		if !p.bitmap.Test(lvl) {
			continue
		}
		var hit int32 = -1
		p.levels[lvl].Each(func(s int32, n *queue.Node) {
			if hit == -1 && n.Task == t {
				hit = s
			}
		})
		if hit != -1 {
			return hit, lvl, true
		}
	}
	return -1, 0, false
}

// SetPriority moves t to a new priority level: detach from the current
// level, reset the age counter, and push at the tail of the new level.
func (p *Policy) SetPriority(t *tcb.TCB, newPriority uint8) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setPriorityLocked(t, newPriority)
}

func (p *Policy) setPriorityLocked(t *tcb.TCB, newPriority uint8) error {
	slot, level, found := p.findLocked(t)
	if found {
		p.levels[level].Remove(slot)
		p.pool.Free(slot)
		if p.levels[level].Empty() {
			p.bitmap.Clear(level)
		}
	}
	t.EffectivePriority = newPriority
	if !found {
		// Task isn't currently Ready (Running/Blocked/Suspended): only the
		// TCB field changes; it rejoins the ready structure via AddTask
		// when it next becomes Ready.
		return nil
	}
	newSlot, err := p.pool.Alloc(t)
	if err != nil {
		return err
	}
	node := p.pool.Get(newSlot)
	node.Level = int(newPriority)
	node.AgeCount = 0
	p.levels[newPriority].PushBack(newSlot)
	p.bitmap.Set(int(newPriority))
	return nil
}

func (p *Policy) Tick(now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalTicks++
	return false, nil
}

func (p *Policy) GetStats() policy.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// SaveState snapshots every ready task level-by-level, lowest level (i.e.
// highest priority) first, preserving within-level FIFO order.
func (p *Policy) SaveState() (policy.SavedState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := policy.SavedState{Policy: policy.Priority}
	for level := 0; level < tcb.PriorityLevels; level++ {
		if !p.bitmap.Test(level) {
			continue
		}
		pos := 0
		p.levels[level].Each(func(slot int32, n *queue.Node) {
			state.Tasks = append(state.Tasks, policy.SavedTask{Task: n.Task, Level: level, Position: pos})
			pos++
		})
	}
	return state, nil
}

// RestoreState re-admits every task at its recorded level, in original
// per-level order (used for switch rollback).
func (p *Policy) RestoreState(state policy.SavedState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	for _, st := range state.Tasks {
		if err := p.enqueueLocked(st.Task, st.Level); err != nil {
			return err
		}
	}
	return nil
}

// LevelCount returns how many tasks currently sit at priority level lvl
// (diagnostic / test helper).
func (p *Policy) LevelCount(lvl int) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[lvl].Count()
}

// AddTaskAtHead implements migration.HeadEnqueuer: it admits t at the head
// of priority level 0 (the highest level), used by the deadline-based
// migration strategy for imminent deadlines.
func (p *Policy) AddTaskAtHead(t *tcb.TCB) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	const highest = 0
	slot, err := p.pool.Alloc(t)
	if err != nil {
		return err
	}
	node := p.pool.Get(slot)
	node.Level = highest
	p.levels[highest].PushFront(slot)
	p.bitmap.Set(highest)
	t.State = tcb.Ready
	t.EffectivePriority = highest
	p.stats.TotalEnqueued++
	return nil
}
