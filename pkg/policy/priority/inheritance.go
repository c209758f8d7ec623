package priority

import (
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// inheritanceRecord ties a task to a blocking resource it has temporarily
// boosted its own priority on behalf of: original priority, inherited
// priority, inheritance depth, resource identifier, and timestamp.
type inheritanceRecord struct {
	task              *tcb.TCB
	originalPriority  uint8
	inheritedPriority uint8
	depth             int
	resource          string
	timestamp         time.Time
	inUse             bool
}

// inheritanceTable is a fixed-capacity table of inheritanceRecords, with
// occupancy tracked by a simple used-count (a full bitmap would be
// overkill at this capacity, but the fixed-size-array-plus-occupancy
// shape is the same pattern as the node pool in pkg/queue).
type inheritanceTable struct {
	records []inheritanceRecord
	used    int
}

func newInheritanceTable(capacity int) inheritanceTable {
	return inheritanceTable{records: make([]inheritanceRecord, capacity)}
}

func (it *inheritanceTable) countForTask(t *tcb.TCB) int {
	n := 0
	for i := range it.records {
		if it.records[i].inUse && it.records[i].task == t {
			n++
		}
	}
	return n
}

func (it *inheritanceTable) alloc() int {
	for i := range it.records {
		if !it.records[i].inUse {
			return i
		}
	}
	return -1
}

func (it *inheritanceTable) findByTaskResource(t *tcb.TCB, resource string) int {
	for i := range it.records {
		if it.records[i].inUse && it.records[i].task == t && it.records[i].resource == resource {
			return i
		}
	}
	return -1
}

// minInheritedFor returns the minimum (numerically lowest, i.e. highest
// priority) inherited priority currently recorded for t, and whether any
// record exists.
func (it *inheritanceTable) minInheritedFor(t *tcb.TCB) (uint8, bool) {
	min := uint8(255)
	found := false
	for i := range it.records {
		if it.records[i].inUse && it.records[i].task == t {
			if !found || it.records[i].inheritedPriority < min {
				min = it.records[i].inheritedPriority
				found = true
			}
		}
	}
	return min, found
}

// Inherit temporarily elevates t's effective priority to inheritedPriority
// on behalf of resource, provided inheritance is enabled, the table and
// the per-task depth have room, and the inherited priority actually
// outranks t's current effective priority.
func (p *Policy) Inherit(t *tcb.TCB, inheritedPriority uint8, resource string) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.InheritanceEnabled {
		return errs.New(errs.NotSupported, "priority inheritance disabled")
	}

	if p.inherit.countForTask(t) >= p.cfg.MaxInheritanceDepth {
		return errs.New(errs.ResourceExhausted, "task inheritance depth limit reached")
	}
	if p.inherit.used >= len(p.inherit.records) {
		return errs.New(errs.ResourceExhausted, "inheritance table full")
	}

	// Only effective when inherited_priority outranks the task's current
	// effective priority; otherwise this is a documented no-op.
	if inheritedPriority >= t.EffectivePriority {
		return nil
	}

	idx := p.inherit.alloc()
	p.inherit.records[idx] = inheritanceRecord{
		task:              t,
		originalPriority:  t.EffectivePriority,
		inheritedPriority: inheritedPriority,
		depth:             p.inherit.countForTask(t) + 1,
		resource:          resource,
		timestamp:         time.Now(),
		inUse:             true,
	}
	p.inherit.used++

	return p.setPriorityLocked(t, inheritedPriority)
}

// Uninherit removes the matching record and recomputes effective priority
// as the min of base priority and any remaining inherited priorities.
func (p *Policy) Uninherit(t *tcb.TCB, resource string) error {
	if t == nil {
		return errs.New(errs.InvalidArgument, "nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.inherit.findByTaskResource(t, resource)
	if idx == -1 {
		return errs.New(errs.NotFound, "no matching inheritance record")
	}
	p.inherit.records[idx] = inheritanceRecord{}
	p.inherit.used--

	newEffective := t.BasePriority
	if min, ok := p.inherit.minInheritedFor(t); ok && min < newEffective {
		newEffective = min
	}
	return p.setPriorityLocked(t, newEffective)
}
