// Package migration implements the task migration engine: the three
// ordering strategies used when the switch controller moves tasks from
// one policy's ready structures into another's.
package migration

import (
	"sort"

	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// Strategy selects how migrated tasks are ordered and placed in the
// target policy.
type Strategy string

const (
	PreserveOrder Strategy = "preserve_order"
	PriorityBased Strategy = "priority_based"
	DeadlineBased Strategy = "deadline_based"
)

// ImminentDeadlineMicros marks a deadline as "imminent" for DeadlineBased
// placement: tasks with a configured deadline due within this many
// microseconds of now go to the head of the target's highest-priority
// queue instead of the tail of their base-priority queue.
const ImminentDeadlineMicros = 5000

// HeadEnqueuer is an optional extension a policy implements when it
// supports head-of-queue admission, needed only by DeadlineBased for
// imminent-deadline tasks. Policies that don't implement it simply never
// receive a head placement (DeadlineBased falls back to AddTask).
type HeadEnqueuer interface {
	AddTaskAtHead(t *tcb.TCB) error
}

// ProgressFunc receives migration progress. Calls are monotonic and never
// exceed the batch size.
type ProgressFunc func(done, total int)

// Eligible filters saved tasks to those migratable: state in {Ready,
// Blocked, Suspended}, not already mid-migration. Deleted tasks are
// skipped.
func Eligible(tasks []policy.SavedTask) []policy.SavedTask {
	out := make([]policy.SavedTask, 0, len(tasks))
	for _, st := range tasks {
		if st.Task.Migratable() {
			out = append(out, st)
		}
	}
	return out
}

// Order sorts tasks per strategy. The sort is stable, so peers with equal
// sort key retain their relative input order.
func Order(strategy Strategy, tasks []policy.SavedTask) []policy.SavedTask {
	ordered := make([]policy.SavedTask, len(tasks))
	copy(ordered, tasks)

	switch strategy {
	case PriorityBased:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Task.BasePriority < ordered[j].Task.BasePriority
		})
	case DeadlineBased:
		sort.SliceStable(ordered, func(i, j int) bool {
			di, dj := ordered[i].Task.Stats.DeadlineMicros, ordered[j].Task.Stats.DeadlineMicros
			if di == 0 && dj == 0 {
				return ordered[i].Task.EffectivePriority < ordered[j].Task.EffectivePriority
			}
			if di == 0 {
				return false
			}
			if dj == 0 {
				return true
			}
			if di != dj {
				return di < dj
			}
			return ordered[i].Task.EffectivePriority < ordered[j].Task.EffectivePriority
		})
	case PreserveOrder:
		// Already in policy-defined dequeue order from SaveState.
	}
	return ordered
}

// Run migrates tasks into target using strategy, reporting progress after
// each successfully placed task. It is idempotent: re-running after a
// partial failure (some tasks already placed, marked non-migratable by
// virtue of no longer being in the source snapshot) produces the same
// final placement, because placement order is a pure function of the
// (strategy, input snapshot) pair, not of prior attempts.
//
// Returns the number of tasks successfully placed and, on the first
// placement failure (almost always target pool exhaustion), a
// ResourceExhausted error. The caller (the switch controller) decides
// whether to roll back.
func Run(strategy Strategy, tasks []policy.SavedTask, target policy.Policy, nowMicros uint64, progress ProgressFunc) (int, error) {
	eligible := Eligible(tasks)
	ordered := Order(strategy, eligible)
	total := len(ordered)

	for i, st := range ordered {
		st.Task.SetMigrating(true)
		err := Place(strategy, target, st, nowMicros)
		st.Task.SetMigrating(false)
		if err != nil {
			return i, errs.Wrap(errs.ResourceExhausted, "migration: target placement failed", err)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	return total, nil
}

// Place admits a single task into target according to strategy. Exported
// so callers that need per-task control over a migration batch (the
// switch controller's rollback bookkeeping) can replicate Run's placement
// decision one task at a time instead of only through the all-or-nothing
// batch helper.
func Place(strategy Strategy, target policy.Policy, st policy.SavedTask, nowMicros uint64) error {
	switch strategy {
	case PriorityBased:
		st.Task.EffectivePriority = st.Task.BasePriority
		return target.AddTask(st.Task)

	case DeadlineBased:
		if imminent(st.Task, nowMicros) {
			if head, ok := target.(HeadEnqueuer); ok {
				return head.AddTaskAtHead(st.Task)
			}
		}
		st.Task.EffectivePriority = st.Task.BasePriority
		return target.AddTask(st.Task)

	default: // PreserveOrder
		return target.AddTask(st.Task)
	}
}

func imminent(t *tcb.TCB, nowMicros uint64) bool {
	if t.Stats.DeadlineMicros == 0 {
		return false
	}
	if t.Stats.DeadlineMicros <= nowMicros {
		return true
	}
	return t.Stats.DeadlineMicros-nowMicros <= ImminentDeadlineMicros
}
