// Package policy defines the uniform scheduling-policy plugin interface
// shared by the round-robin and priority policies, plus the
// small capability-descriptor table the switch controller consults before
// migrating tasks between policies.
package policy

import (
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// ID identifies a concrete scheduling policy.
type ID string

const (
	RoundRobin ID = "round_robin"
	Priority   ID = "priority"
)

// QueueKind describes the shape of a policy's ready structures, consulted
// by the migration engine when deciding how to place an incoming task.
type QueueKind int

const (
	SingleFIFO QueueKind = iota
	PerPriorityFIFO
)

// Capabilities is the small capability-descriptor table the switch
// controller consults when planning a migration.
type Capabilities struct {
	QueueKind            QueueKind
	SupportsInheritance  bool
	SupportsAging        bool
	// StatePreservationSize is the number of bytes the policy's state-save
	// capability needs in the switch controller's preservation buffer.
	StatePreservationSize int
}

// Stats is the subset of a policy's performance counters exposed through
// the uniform interface; concrete policies may expose richer stats through
// their own GetStats-equivalent accessor.
type Stats struct {
	TotalScheduled    uint64
	TotalEnqueued     uint64
	TotalTicks        uint64
	StarvationBoosts  uint64
	AgingAdjustments  uint64
}

// SavedState is the serialized form a policy produces for the switch
// controller to snapshot and, on rollback, restore.
type SavedState struct {
	Policy ID
	Tasks  []SavedTask
}

// SavedTask captures exactly what's needed to replay a task's position.
type SavedTask struct {
	Task     *tcb.TCB
	Level    int // priority level for PerPriorityFIFO policies; ignored otherwise
	Position int // 0-based position within its queue, for order-preserving restore
}

// Policy is the uniform plugin interface every scheduling policy
// implements.
type Policy interface {
	ID() ID
	Capabilities() Capabilities

	// Init prepares internal structures. Must be called exactly once
	// before Start.
	Init() error
	// Start activates the policy as the one the kernel schedules from.
	Start() error
	// Stop deactivates the policy; ready structures are left intact so a
	// subsequent Start (or a switch controller restore) can resume.
	Stop() error
	// Reset clears all ready structures and counters back to empty.
	Reset() error

	// Schedule returns the next task to run, or nil if no task is ready.
	Schedule() (*tcb.TCB, error)
	// AddTask admits a task into the policy's ready structures.
	AddTask(t *tcb.TCB) error
	// RemoveTask evicts a task from the policy's ready structures
	// (deletion or migration-out); returns NotFound if the task isn't
	// present.
	RemoveTask(t *tcb.TCB) error
	// Tick advances time-based bookkeeping (time slices, aging) by one
	// timer tick. needsReschedule reports whether the caller should route
	// a reschedule request through the preemption gate (e.g. round-robin
	// slice expiry).
	Tick(now time.Time) (needsReschedule bool, err error)

	GetStats() Stats

	// SaveState produces a restorable snapshot of every ready task, for
	// the switch controller.
	SaveState() (SavedState, error)
	// RestoreState re-admits every task from a snapshot, in the order the
	// snapshot records it (used for rollback).
	RestoreState(state SavedState) error
}
