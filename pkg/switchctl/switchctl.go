// Package switchctl implements the switch controller: the finite-state
// machine that moves the scheduler from one active policy to another
// without losing a task, with a rollback branch triggered by failure at
// any phase and a rate-limited minimum interval between non-forced
// switches.
package switchctl

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/dsrtos-core/pkg/collab"
	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/gate"
	"github.com/khryptorgraphics/dsrtos-core/pkg/migration"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// Phase is a state of the switch controller's finite-state machine:
// Idle -> Validating -> Preparing -> SavingState -> MigratingTasks
// -> ActivatingTarget -> Completing -> Idle, with RollingBack reachable
// from any phase after Preparing, and ErrorState reachable only from a
// rollback that itself fails.
type Phase int

const (
	Idle Phase = iota
	Validating
	Preparing
	SavingState
	MigratingTasks
	ActivatingTarget
	Completing
	RollingBack
	ErrorState
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Preparing:
		return "preparing"
	case SavingState:
		return "saving_state"
	case MigratingTasks:
		return "migrating_tasks"
	case ActivatingTarget:
		return "activating_target"
	case Completing:
		return "completing"
	case RollingBack:
		return "rolling_back"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultMinSwitchIntervalMs is the minimum spacing between two non-forced
// switches.
const DefaultMinSwitchIntervalMs = 100

// DefaultMaxSwitchMicros is the total switch time budget.
const DefaultMaxSwitchMicros = 1000

// DefaultMaxCriticalSectionMicros bounds the preemption-disabled window
// within a switch.
const DefaultMaxCriticalSectionMicros = 100

// DefaultHistoryDepth is the minimum switch-history ring depth.
const DefaultHistoryDepth = 32

// Config configures a Controller. A nil Config (or zero-valued fields)
// takes the defaults above.
type Config struct {
	MinSwitchIntervalMs      int
	MaxSwitchMicros          uint64
	MaxCriticalSectionMicros uint64
	HistoryDepth             int
	// Validate is an optional external callback consulted during the
	// Validating phase, e.g. a board-level policy forbidding a switch
	// during a flight-critical phase. Returning a non-nil error aborts
	// the switch before any preemption-disabled work begins.
	Validate func(from, to policy.ID) error
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MinSwitchIntervalMs <= 0 {
		out.MinSwitchIntervalMs = DefaultMinSwitchIntervalMs
	}
	if out.MaxSwitchMicros == 0 {
		out.MaxSwitchMicros = DefaultMaxSwitchMicros
	}
	if out.MaxCriticalSectionMicros == 0 {
		out.MaxCriticalSectionMicros = DefaultMaxCriticalSectionMicros
	}
	if out.HistoryDepth < DefaultHistoryDepth {
		out.HistoryDepth = DefaultHistoryDepth
	}
	return out
}

// Stats aggregates switch controller counters (feeds pkg/metrics).
type Stats struct {
	TotalSwitches      uint64
	SuccessfulSwitches uint64
	RollbackCount      uint64
	BudgetViolations   uint64
}

// Request describes one requested policy switch.
type Request struct {
	From     policy.Policy
	To       policy.Policy
	Forced   bool
	Strategy migration.Strategy
	// DeadlineMicros is passed through to the migration engine's
	// deadline-based placement decision; callers using other strategies
	// may leave it zero.
	DeadlineMicros uint64
	// Running is the currently executing task, if any. It is added to the
	// target policy after the migration engine's ready-queue pass and
	// before ActivatingTarget, rather than by that pass itself, since a
	// running task is never present in a ready queue.
	Running *policy.SavedTask
	// Activate performs the atomic swap of the kernel's active-policy
	// pointer. It runs inside the switch's preemption-disabled window,
	// after migration succeeds and before preemption is re-enabled, so
	// no tick or reschedule can observe a half-switched scheduler.
	Activate func() error
	// Progress, if set, is invoked after each task is placed into the
	// target policy during MigratingTasks. Calls are monotonic and never
	// exceed the batch size.
	Progress migration.ProgressFunc
}

// Controller drives one policy switch's finite-state machine at a time.
type Controller struct {
	cfg   Config
	gate  *gate.Gate
	trace collab.TraceSink
	halt  collab.AssertService

	mu      sync.Mutex
	limiter *rate.Limiter
	phase   Phase
	history *historyRing
	stats   Stats
	broken  bool
}

// New builds a Controller. cfg may be nil to take all defaults.
func New(g *gate.Gate, trace collab.TraceSink, halt collab.AssertService, cfg *Config) *Controller {
	var c Config
	if cfg != nil {
		c = cfg.withDefaults()
	} else {
		c = (&Config{}).withDefaults()
	}
	interval := time.Duration(c.MinSwitchIntervalMs) * time.Millisecond
	return &Controller{
		cfg:     c,
		gate:    g,
		trace:   trace,
		halt:    halt,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		phase:   Idle,
		history: newHistoryRing(c.HistoryDepth),
	}
}

// Phase returns the controller's current FSM phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// History returns every retained switch record, oldest first.
func (c *Controller) History() []HistoryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.All()
}

// Broken reports whether a rollback previously failed, leaving the
// controller in ErrorState. This is unrecoverable: the caller must treat
// the scheduler as failed.
func (c *Controller) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Switch drives one full pass of the FSM. It returns the completed (or
// rolled-back) HistoryRecord and a classified error: Busy if a switch is
// already in flight (or the controller has previously broken),
// InvalidArgument for a same-policy or nil-policy request, PolicyViolation
// if a non-forced request arrives before the minimum switch interval has
// elapsed or the external validator refuses it, and ResourceExhausted if
// migration exhausts the target's capacity (in which case Switch rolls
// back before returning).
func (c *Controller) Switch(req Request) (HistoryRecord, error) {
	start := time.Now()

	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return HistoryRecord{}, errs.New(errs.Busy, "switch controller is in error state")
	}
	if c.phase != Idle {
		c.mu.Unlock()
		return HistoryRecord{}, errs.New(errs.Busy, "a switch is already in progress")
	}
	if req.From == nil || req.To == nil {
		c.mu.Unlock()
		return HistoryRecord{}, errs.New(errs.InvalidArgument, "from and to policies are required")
	}
	if req.From.ID() == req.To.ID() {
		c.mu.Unlock()
		return HistoryRecord{}, errs.New(errs.InvalidArgument, "switch target is the same as the current policy")
	}
	if !req.Forced && !c.limiter.AllowN(start, 1) {
		c.mu.Unlock()
		return HistoryRecord{}, errs.New(errs.PolicyViolation, "min_switch_interval has not elapsed")
	}
	c.phase = Validating
	c.mu.Unlock()

	if c.cfg.Validate != nil {
		if err := c.cfg.Validate(req.From.ID(), req.To.ID()); err != nil {
			c.setPhase(Idle)
			return HistoryRecord{}, errs.Wrap(errs.PolicyViolation, "external validator refused switch", err)
		}
	}

	rec := HistoryRecord{ID: uuid.New(), Timestamp: start, From: req.From.ID(), To: req.To.ID(), Strategy: req.Strategy}

	c.setPhase(Preparing)
	c.gate.Disable()
	critStart := time.Now()

	saved, err := req.From.SaveState()
	if err != nil {
		c.rollback(&rec, req.From, nil, err, "save_state_failed")
		return rec, errs.Wrap(errs.ResourceExhausted, "switch: source SaveState failed", err)
	}
	c.setPhase(SavingState)

	target := req.To.Capabilities()
	if target.StatePreservationSize > 0 && len(saved.Tasks)*64 > target.StatePreservationSize {
		err := errs.New(errs.ResourceExhausted, "target preservation buffer too small for source task count")
		c.rollback(&rec, req.From, saved.Tasks, err, "preservation_buffer_exhausted")
		return rec, err
	}

	c.setPhase(MigratingTasks)
	ordered := migration.Order(req.Strategy, migration.Eligible(saved.Tasks))
	total := len(ordered)
	var placed []policy.SavedTask
	for _, st := range ordered {
		st.Task.SetMigrating(true)
		placeErr := migration.Place(req.Strategy, req.To, st, req.DeadlineMicros)
		st.Task.SetMigrating(false)
		if placeErr != nil {
			err = errs.Wrap(errs.ResourceExhausted, "migration: target placement failed", placeErr)
			break
		}
		placed = append(placed, st)
		if req.Progress != nil {
			req.Progress(len(placed), total)
		}
	}
	if err != nil {
		c.purgeAndRollback(&rec, req.From, req.To, saved.Tasks, placed, nil, err, "migration_failed")
		return rec, err
	}

	if req.Running != nil {
		req.Running.Task.EffectivePriority = req.Running.Task.BasePriority
		if err := req.To.AddTask(req.Running.Task); err != nil {
			c.purgeAndRollback(&rec, req.From, req.To, saved.Tasks, placed, nil, err, "running_task_placement_failed")
			return rec, err
		}
	}

	c.setPhase(ActivatingTarget)
	if err := req.To.Start(); err != nil {
		c.purgeAndRollback(&rec, req.From, req.To, saved.Tasks, placed, req.Running, err, "target_start_failed")
		return rec, errs.Wrap(errs.InvalidArgument, "switch: target Start failed", err)
	}
	if req.Activate != nil {
		if err := req.Activate(); err != nil {
			c.purgeAndRollback(&rec, req.From, req.To, saved.Tasks, placed, req.Running, err, "activate_failed")
			return rec, errs.Wrap(errs.InvalidArgument, "switch: activate callback failed", err)
		}
	}

	// Every migrated task now lives in the target; drop the source's copies
	// so no task stays queued in both policies.
	for _, st := range placed {
		_ = req.From.RemoveTask(st.Task)
	}
	if req.Running != nil {
		_ = req.From.RemoveTask(req.Running.Task)
	}

	critDuration := time.Since(critStart)
	c.gate.Enable()
	_ = req.From.Stop()

	c.setPhase(Completing)
	total := time.Since(start)

	c.mu.Lock()
	c.stats.TotalSwitches++
	c.stats.SuccessfulSwitches++
	if uint64(total.Microseconds()) > c.cfg.MaxSwitchMicros || uint64(critDuration.Microseconds()) > c.cfg.MaxCriticalSectionMicros {
		c.stats.BudgetViolations++
	}
	rec.Outcome = "success"
	rec.DurationMicros = uint64(total.Microseconds())
	c.history.add(rec)
	c.phase = Idle
	c.mu.Unlock()

	if c.trace != nil {
		c.trace.Trace("switch_completed", map[string]any{
			"from": string(rec.From), "to": string(rec.To), "duration_us": rec.DurationMicros,
		})
	}
	return rec, nil
}

// rollback restores every saved task to the source policy and returns the
// controller to Idle. tasks is nil when failure struck before any task
// left the source (nothing to restore). If the restore itself fails, the
// controller is marked broken and a fatal halt is raised: a rollback that
// cannot complete leaves no policy with a consistent task set, which is
// treated as unrecoverable.
func (c *Controller) rollback(rec *HistoryRecord, from policy.Policy, tasks []policy.SavedTask, cause error, outcome string) {
	c.mu.Lock()
	c.phase = RollingBack
	c.mu.Unlock()

	if tasks != nil {
		if restoreErr := from.RestoreState(policy.SavedState{Policy: from.ID(), Tasks: tasks}); restoreErr != nil {
			c.gate.Enable()
			c.mu.Lock()
			c.broken = true
			c.stats.TotalSwitches++
			c.phase = ErrorState
			c.mu.Unlock()
			if c.halt != nil {
				c.halt.Halt(2001, "switch controller: rollback failed, scheduler state unrecoverable")
			}
			return
		}
	}

	c.gate.Enable()

	c.mu.Lock()
	c.stats.TotalSwitches++
	c.stats.RollbackCount++
	rec.Outcome = outcome
	rec.DurationMicros = uint64(time.Since(rec.Timestamp).Microseconds())
	c.history.add(*rec)
	c.phase = Idle
	c.mu.Unlock()

	if c.trace != nil {
		c.trace.Trace("switch_rolled_back", map[string]any{
			"from": string(rec.From), "to": string(rec.To), "cause": cause.Error(),
		})
	}
}

// purgeAndRollback removes every task that already made it into the
// target policy (including the running task, if it was placed) before
// restoring the source from its snapshot, so a partially completed
// migration never leaves a task present in both policies. RemoveTask
// returning NotFound for an already-absent task is expected and ignored.
func (c *Controller) purgeAndRollback(rec *HistoryRecord, from, to policy.Policy, saved []policy.SavedTask, placed []policy.SavedTask, running *policy.SavedTask, cause error, outcome string) {
	for _, st := range placed {
		_ = to.RemoveTask(st.Task)
	}
	if running != nil {
		_ = to.RemoveTask(running.Task)
		running.Task.State = tcb.Running
	}
	c.rollback(rec, from, saved, cause, outcome)
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}
