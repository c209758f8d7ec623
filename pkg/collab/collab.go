// Package collab defines the contracts for the external collaborators the
// scheduler core consumes but does not implement: the interrupt controller,
// the free-running timer, the task manager, the memory service, and the
// trace/assert service. The core only ever depends on these
// interfaces; pkg/collab/simhw provides in-process fakes for tests and the
// simulation harness.
package collab

import "time"

// InterruptController abstracts the board's NVIC-equivalent. The core never
// mentions the underlying hardware mechanism — it only asks to
// mask/restore interrupts and to arrange a deferred kernel entry.
type InterruptController interface {
	// GlobalDisable raises the interrupt mask and returns the previous mask
	// so it can later be restored exactly.
	GlobalDisable() uint32
	// GlobalRestore restores a previously saved mask.
	GlobalRestore(mask uint32)
	// SetPriority sets the priority level of interrupt source id.
	SetPriority(id int, level int)
	// IsInInterrupt reports whether the caller is currently executing in
	// interrupt (exception) context.
	IsInInterrupt() bool
	// RequestPendingSwitch sets the hardware pending-switch-request flag;
	// on return from the current exception, control transfers to the
	// scheduler's context-switch routine.
	RequestPendingSwitch()
}

// TimerService abstracts the free-running millisecond/cycle timer.
type TimerService interface {
	// TickCount returns a monotonic 1kHz tick counter.
	TickCount() uint64
	// Microseconds returns a monotonic microsecond counter.
	Microseconds() uint64
	// CycleCount returns a wrapping CPU-cycle counter.
	CycleCount() uint32
}

// TaskManager is notified of task lifecycle events by the scheduler core,
// and is the authority that allocates TCBs with pre-allocated stacks.
type TaskManager interface {
	// OnTaskAdded is invoked after a task successfully joins the active
	// policy's ready structures.
	OnTaskAdded(taskID uint32)
	// OnTaskRemoved is invoked after a task is deleted and has left every
	// ready structure. Migration between policies does not invoke it.
	OnTaskRemoved(taskID uint32)
}

// MemoryService is consulted only to confirm static-pool sizing; the core
// never performs dynamic allocation.
type MemoryService interface {
	// StaticPoolBytes returns the number of bytes reserved for a named
	// static pool, or 0 if unknown.
	StaticPoolBytes(poolName string) uint32
}

// TraceSink receives advisory trace events. Unlike assertion failures,
// losing a trace event is never a correctness problem.
type TraceSink interface {
	Trace(event string, fields map[string]any)
}

// AssertService is the fatal-halt path: any invariant breach is
// unrecoverable for a safety-critical kernel. Halt must not
// return; implementations that must return for test purposes should still
// make the non-return behavior of production builds obvious to callers.
type AssertService interface {
	// Halt records diagnosticCode and message, then transfers control to
	// the diagnostic service. Production implementations never return.
	Halt(diagnosticCode uint32, message string)
}

// Clock is a narrow timer facade used by packages that only need "now" in
// the timer service's time base, decoupled from TimerService's full
// contract so unit tests can fake a single method.
type Clock interface {
	Now() time.Time
}
