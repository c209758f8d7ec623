// Package tcb implements the task control block data model:
// the per-task record, the process-wide task table, and the O(1)
// priority-bitmap lookup structure shared by the priority policy.
package tcb

import (
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
)

// State is the task state tag.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Suspended
	Deleted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Suspended:
		return "suspended"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// validMagic marks a live TCB; it is overwritten on free so stray pointers
// and use-after-free are detectable rather than silently corrupting state.
const validMagic uint32 = 0x54434256 // "TCBV"
const freedMagic uint32 = 0xDEADC0DE

// Stack is the task's stack region descriptor.
type Stack struct {
	Base    uintptr
	Size    uint32
	Current uintptr
}

// RuntimeStats is the per-task runtime-statistics substructure.
type RuntimeStats struct {
	CumulativeRuntime time.Duration
	WakeupTimestamp   time.Time
	DeadlineMisses    uint32
	DeadlineMicros    uint64 // 0 = no deadline configured
}

// TCB is the task control block. Queues hold non-owning
// references to a TCB stored in the process-wide Table; a TCB is never
// copied by value across package boundaries because its Magic field must
// remain the single source of truth for liveness.
type TCB struct {
	ID    uint32
	Magic uint32

	State State

	BasePriority      uint8 // 0 = highest, 255 = lowest
	EffectivePriority uint8

	Stack Stack

	// SavedContext is an opaque, architecture-owned blob; the core never
	// interprets it.
	SavedContext []byte

	Stats RuntimeStats

	// migrating is set by the migration engine while this task is in
	// flight between policies, so it is excluded from a second concurrent
	// migration.
	migrating bool
}

// Valid reports whether t is a live TCB (not freed, not a stray pointer).
func (t *TCB) Valid() bool {
	return t != nil && t.Magic == validMagic
}

// Migratable reports whether t is eligible for migration: state in
// {Ready, Blocked, Suspended} and not already mid-migration.
func (t *TCB) Migratable() bool {
	if !t.Valid() || t.migrating {
		return false
	}
	switch t.State {
	case Ready, Blocked, Suspended:
		return true
	default:
		return false
	}
}

// SetMigrating marks or clears the in-flight migration flag.
func (t *TCB) SetMigrating(v bool) { t.migrating = v }

// Migrating reports the in-flight migration flag.
func (t *TCB) Migrating() bool { return t.migrating }

// Table is the process-wide owner of every TCB.
type Table struct {
	tasks map[uint32]*TCB
}

// NewTable returns an empty task table.
func NewTable() *Table {
	return &Table{tasks: make(map[uint32]*TCB)}
}

// Add registers a new TCB created by the task-manager collaborator. The
// task enters Ready state immediately.
func (tb *Table) Add(id uint32, basePriority uint8, stack Stack) (*TCB, error) {
	if _, exists := tb.tasks[id]; exists {
		return nil, errs.New(errs.InvalidArgument, "task id already registered")
	}
	t := &TCB{
		ID:                id,
		Magic:             validMagic,
		State:             Ready,
		BasePriority:      basePriority,
		EffectivePriority: basePriority,
		Stack:             stack,
	}
	tb.tasks[id] = t
	return t, nil
}

// Lookup returns the TCB for id, or nil if not present.
func (tb *Table) Lookup(id uint32) *TCB {
	return tb.tasks[id]
}

// Delete marks the TCB deleted and removes it from the table. A task must
// first be removed from any queue before deletion; callers (the kernel
// orchestrator) are responsible for that ordering — Delete itself only
// asserts the task isn't still Running.
func (tb *Table) Delete(id uint32) error {
	t, ok := tb.tasks[id]
	if !ok {
		return errs.New(errs.NotFound, "task not found")
	}
	if t.State == Running {
		return errs.New(errs.InvalidArgument, "cannot delete a running task")
	}
	t.State = Deleted
	t.Magic = freedMagic
	delete(tb.tasks, id)
	return nil
}

// Len returns the number of live tasks.
func (tb *Table) Len() int { return len(tb.tasks) }

// All returns a snapshot slice of all live TCBs. Intended for diagnostics
// and tests, not the scheduling hot path.
func (tb *Table) All() []*TCB {
	out := make([]*TCB, 0, len(tb.tasks))
	for _, t := range tb.tasks {
		out = append(out, t)
	}
	return out
}
