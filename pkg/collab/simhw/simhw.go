// Package simhw provides in-process fake implementations of the collab
// interfaces, suitable for the simulation harness (cmd/dsrtos-sim) and for
// package tests that need a TimerService/InterruptController/TraceSink
// without real hardware.
package simhw

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// InterruptController is a software model of a single interrupt mask
// register plus a pending-switch flag.
type InterruptController struct {
	mu            sync.Mutex
	mask          uint32
	priorities    map[int]int
	inInterrupt   bool
	pendingSwitch atomic.Bool
}

func NewInterruptController() *InterruptController {
	return &InterruptController{priorities: make(map[int]int)}
}

func (c *InterruptController) GlobalDisable() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mask
	c.mask = 0xFFFFFFFF
	return prev
}

func (c *InterruptController) GlobalRestore(mask uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mask = mask
}

func (c *InterruptController) SetPriority(id int, level int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priorities[id] = level
}

func (c *InterruptController) IsInInterrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inInterrupt
}

// SetInInterrupt lets the simulation harness model entering/leaving an
// interrupt handler.
func (c *InterruptController) SetInInterrupt(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inInterrupt = v
}

func (c *InterruptController) RequestPendingSwitch() {
	c.pendingSwitch.Store(true)
}

// ConsumePendingSwitch reports and clears whether a switch was requested,
// modeling the PendSV-equivalent exception firing once on exit.
func (c *InterruptController) ConsumePendingSwitch() bool {
	return c.pendingSwitch.Swap(false)
}

// Timer is a monotonic, manually-advanced timer service used so tests can
// control the passage of time deterministically instead of racing a real
// clock.
type Timer struct {
	ticks   atomic.Uint64
	micros  atomic.Uint64
	cycles  atomic.Uint32
	startAt time.Time
}

func NewTimer() *Timer {
	return &Timer{startAt: time.Now()}
}

func (t *Timer) TickCount() uint64 { return t.ticks.Load() }

func (t *Timer) Microseconds() uint64 { return t.ticks.Load()*1000 + t.micros.Load() }

func (t *Timer) CycleCount() uint32 { return t.cycles.Load() }

// AdvanceMillis advances the simulated tick counter by n 1kHz ticks.
func (t *Timer) AdvanceMillis(n uint64) {
	t.ticks.Add(n)
	t.cycles.Add(uint32(n) * 168_000)
}

// AdvanceMicros advances sub-millisecond time without moving the tick
// counter, so callers can exercise microsecond-resolution code paths (the
// switch controller's latency budget) independently of tick-granularity
// logic. Backed by a separate counter rather than derived from ticks, to
// avoid the resolution loss an ms*1000 derivation would introduce.
func (t *Timer) AdvanceMicros(n uint64) {
	t.micros.Add(n)
	t.cycles.Add(uint32(n) * 168)
}

// Now satisfies collab.Clock for components that only need wall time.
func (t *Timer) Now() time.Time {
	return t.startAt.Add(time.Duration(t.ticks.Load()) * time.Millisecond)
}

// TraceSink logs trace events through log/slog, the structured logger
// used at the service edge.
type TraceSink struct {
	logger *slog.Logger
}

func NewTraceSink(logger *slog.Logger) *TraceSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceSink{logger: logger}
}

func (s *TraceSink) Trace(event string, fields map[string]any) {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	s.logger.Debug(event, args...)
}

// AssertService is a test/sim-friendly halt: it records the halt instead
// of terminating the process, so the harness can report it and tests can
// assert it was reached.
type AssertService struct {
	mu       sync.Mutex
	halted   bool
	code     uint32
	message  string
	logger   *slog.Logger
}

func NewAssertService(logger *slog.Logger) *AssertService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssertService{logger: logger}
}

func (a *AssertService) Halt(diagnosticCode uint32, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.halted = true
	a.code = diagnosticCode
	a.message = message
	a.logger.Error("fatal: scheduler core halted", "code", diagnosticCode, "message", message)
}

// Halted reports whether Halt has been called, and with what diagnostic.
func (a *AssertService) Halted() (bool, uint32, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.halted, a.code, a.message
}

// TaskManager records lifecycle callbacks for assertions in tests.
type TaskManager struct {
	mu      sync.Mutex
	added   []uint32
	removed []uint32
}

func NewTaskManager() *TaskManager { return &TaskManager{} }

func (m *TaskManager) OnTaskAdded(taskID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, taskID)
}

func (m *TaskManager) OnTaskRemoved(taskID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, taskID)
}

func (m *TaskManager) Added() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, len(m.added))
	copy(out, m.added)
	return out
}

func (m *TaskManager) Removed() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, len(m.removed))
	copy(out, m.removed)
	return out
}

// MemoryService reports fixed static pool sizes configured by the harness.
type MemoryService struct {
	mu    sync.Mutex
	pools map[string]uint32
}

func NewMemoryService() *MemoryService {
	return &MemoryService{pools: make(map[string]uint32)}
}

func (m *MemoryService) SetPool(name string, bytes uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = bytes
}

func (m *MemoryService) StaticPoolBytes(poolName string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[poolName]
}
