// Package gate implements the preemption gate: a process-wide
// nested preemption-disable counter with deferred-switch semantics. No
// context switch may occur while disable_count > 0; any scheduler
// invocation attempted inside a critical section is converted into a
// deferred switch instead.
package gate

import (
	"sync"
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/collab"
)

// DefaultMaxDepth bounds nesting so a runaway disable()/enable() mismatch
// is caught deterministically rather than silently wrapping a counter.
const DefaultMaxDepth = 255

// Gate is the single process-wide preemption-disable record. It must be
// reachable from interrupt context, so all mutation happens under a
// single mutex with no allocation on the hot path.
type Gate struct {
	ic   collab.InterruptController
	halt collab.AssertService

	mu               sync.Mutex
	disableCount     int32
	savedMask        uint32
	disableTimestamp time.Time
	deferredSwitch   bool
	maxDepth         int32
}

// New builds a Gate bound to an interrupt controller collaborator and a
// fatal-halt sink. maxDepth <= 0 selects DefaultMaxDepth.
func New(ic collab.InterruptController, halt collab.AssertService, maxDepth int32) *Gate {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Gate{ic: ic, halt: halt, maxDepth: maxDepth}
}

// Disable raises the interrupt mask and increments the nesting counter. On
// the 0→1 transition it saves the previous mask and a timestamp. An
// increment that would bring the depth to maxDepth is rejected with a fatal
// assertion; depth maxDepth-1 is the deepest allowed nesting.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disableCount+1 >= g.maxDepth {
		g.halt.Halt(1001, "preemption gate: max nesting depth exceeded")
		return
	}

	if g.disableCount == 0 {
		g.savedMask = g.ic.GlobalDisable()
		g.disableTimestamp = time.Now()
	}
	g.disableCount++
}

// Enable decrements the nesting counter. On the 1→0 transition it restores
// the saved mask and, if a switch was deferred while disabled, requests the
// pending switch and clears the deferred flag. Underflow (Enable without a
// matching Disable) is a fatal assertion.
func (g *Gate) Enable() {
	g.mu.Lock()

	if g.disableCount <= 0 {
		g.mu.Unlock()
		g.halt.Halt(1002, "preemption gate: disable/enable underflow")
		return
	}

	g.disableCount--
	if g.disableCount > 0 {
		g.mu.Unlock()
		return
	}

	mask := g.savedMask
	deferred := g.deferredSwitch
	g.deferredSwitch = false
	g.mu.Unlock()

	g.ic.GlobalRestore(mask)
	if deferred {
		g.ic.RequestPendingSwitch()
	}
}

// RequestSwitchWhileDisabled records that a reschedule is owed once the
// gate returns to depth 0, instead of invoking the scheduler immediately.
// Safe to call from any disable depth, including zero (it still flags a
// deferred switch that the next Enable(), if any is outstanding, will
// honor; callers at depth 0 should prefer requesting the switch directly
// through the interrupt controller).
func (g *Gate) RequestSwitchWhileDisabled() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deferredSwitch = true
}

// Depth returns the current nesting depth (0 = preemption enabled).
func (g *Gate) Depth() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disableCount
}

// Disabled reports whether the gate currently holds preemption disabled.
func (g *Gate) Disabled() bool {
	return g.Depth() > 0
}

// DisabledSince returns how long the current critical section (if any) has
// been held, for use by callers enforcing critical-section time budgets.
func (g *Gate) DisabledSince() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disableCount == 0 {
		return 0
	}
	return time.Since(g.disableTimestamp)
}

// MaxDepth returns the configured maximum nesting depth.
func (g *Gate) MaxDepth() int32 { return g.maxDepth }

// Section runs fn with preemption disabled for its duration, guaranteeing
// Enable is called exactly once even if fn panics. This is the idiomatic
// entry point application code should use instead of calling Disable/Enable
// directly.
func (g *Gate) Section(fn func()) {
	g.Disable()
	defer g.Enable()
	fn()
}
