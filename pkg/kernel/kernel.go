// Package kernel wires the scheduler core's components into the single
// orchestrator a board's timer-tick handler and task-lifecycle calls
// actually talk to: the task table, the active policy, the preemption
// gate, the switch controller, and the metrics collector.
package kernel

import (
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/collab"
	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/gate"
	"github.com/khryptorgraphics/dsrtos-core/pkg/metrics"
	"github.com/khryptorgraphics/dsrtos-core/pkg/migration"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/switchctl"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// Config bundles the collaborators and sub-component configuration the
// kernel needs. Policies are supplied already constructed (via New) and
// registered by ID, since each concrete policy package owns its own
// configuration surface.
type Config struct {
	InterruptController collab.InterruptController
	Assert              collab.AssertService
	TaskManager         collab.TaskManager
	Trace               collab.TraceSink

	GateMaxDepth int32
	Switch       *switchctl.Config

	// Policies lists every installed policy, keyed by ID. Initial must
	// name the one that starts active.
	Policies map[policy.ID]policy.Policy
	Initial  policy.ID
}

// Kernel is the scheduler core orchestrator.
type Kernel struct {
	table    *tcb.Table
	policies map[policy.ID]policy.Policy
	active   policy.Policy
	running  *tcb.TCB
	nextID   uint32

	gate    *gate.Gate
	sc      *switchctl.Controller
	metrics *metrics.Collector

	tasks collab.TaskManager
	trace collab.TraceSink
}

// New builds a Kernel and starts its initial active policy. Every policy
// in cfg.Policies must already have had Init called; New calls Start on
// the initial one.
func New(cfg Config, metricsCollector *metrics.Collector) (*Kernel, error) {
	initial, ok := cfg.Policies[cfg.Initial]
	if !ok {
		return nil, errs.New(errs.InvalidArgument, "initial policy not present in Policies")
	}
	if err := initial.Start(); err != nil {
		return nil, err
	}

	g := gate.New(cfg.InterruptController, cfg.Assert, cfg.GateMaxDepth)
	sc := switchctl.New(g, cfg.Trace, cfg.Assert, cfg.Switch)

	k := &Kernel{
		table:    tcb.NewTable(),
		policies: cfg.Policies,
		active:   initial,
		gate:     g,
		sc:       sc,
		metrics:  metricsCollector,
		tasks:    cfg.TaskManager,
		trace:    cfg.Trace,
	}
	return k, nil
}

// ActivePolicy returns the ID of the currently scheduling policy.
func (k *Kernel) ActivePolicy() policy.ID { return k.active.ID() }

// SwitchController exposes the controller for diagnostics (phase, stats,
// history) without giving callers a way to drive it directly.
func (k *Kernel) SwitchController() *switchctl.Controller { return k.sc }

// CreateTask registers a new task and admits it into the active policy.
// A new task enters Ready state immediately.
func (k *Kernel) CreateTask(basePriority uint8, stack tcb.Stack) (*tcb.TCB, error) {
	var task *tcb.TCB
	var err error
	k.gate.Section(func() {
		k.nextID++
		task, err = k.table.Add(k.nextID, basePriority, stack)
		if err != nil {
			return
		}
		err = k.active.AddTask(task)
	})
	if err != nil {
		return nil, err
	}
	if k.tasks != nil {
		k.tasks.OnTaskAdded(task.ID)
	}
	return task, nil
}

// DeleteTask removes a task from the active policy's ready structures (if
// present) and the task table.
func (k *Kernel) DeleteTask(id uint32) error {
	task := k.table.Lookup(id)
	if task == nil {
		return errs.New(errs.NotFound, "task not found")
	}

	var err error
	k.gate.Section(func() {
		if rmErr := k.active.RemoveTask(task); rmErr != nil && !errs.Is(rmErr, errs.NotFound) {
			err = rmErr
			return
		}
		err = k.table.Delete(id)
	})
	if err != nil {
		return err
	}
	if k.tasks != nil {
		k.tasks.OnTaskRemoved(id)
	}
	return nil
}

// Tick advances the active policy's time-based bookkeeping by one timer
// tick and reschedules if the policy signals slice expiry or an
// equivalent event. If the preemption gate is currently disabled, the
// reschedule is deferred instead of run inline.
func (k *Kernel) Tick(now time.Time) error {
	needsReschedule, err := k.active.Tick(now)
	if err != nil {
		return err
	}
	if k.metrics != nil {
		k.metrics.ObservePolicy(k.active.GetStats())
		k.metrics.ObserveSwitch(k.sc.Stats())
	}
	if !needsReschedule {
		return nil
	}
	if k.gate.Disabled() {
		k.gate.RequestSwitchWhileDisabled()
		return nil
	}
	// A tick-driven reschedule is a preemption, not a block: the running
	// task remains runnable unless something else already changed its
	// state (blocked, suspended, deleted).
	if k.running != nil && k.running.State == tcb.Running {
		k.running.State = tcb.Ready
	}
	_, err = k.Reschedule()
	return err
}

// Reschedule asks the active policy for the next task to run, recording
// decision latency.
func (k *Kernel) Reschedule() (*tcb.TCB, error) {
	start := time.Now()
	var next *tcb.TCB
	var err error
	k.gate.Section(func() {
		next, err = k.active.Schedule()
	})
	if k.metrics != nil {
		k.metrics.RecordDecision(time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	k.running = next
	return next, nil
}

// SwitchPolicy drives the switch controller to move from the active
// policy to the one registered under to.
func (k *Kernel) SwitchPolicy(to policy.ID, forced bool, strategy migration.Strategy, deadlineMicros uint64) (switchctl.HistoryRecord, error) {
	target, ok := k.policies[to]
	if !ok {
		return switchctl.HistoryRecord{}, errs.New(errs.InvalidArgument, "unknown target policy")
	}

	var runningSaved *policy.SavedTask
	if k.running != nil {
		runningSaved = &policy.SavedTask{Task: k.running}
	}

	from := k.active
	rec, err := k.sc.Switch(switchctl.Request{
		From:           from,
		To:             target,
		Forced:         forced,
		Strategy:       strategy,
		DeadlineMicros: deadlineMicros,
		Running:        runningSaved,
		Activate: func() error {
			k.active = target
			return nil
		},
	})
	if k.metrics != nil {
		k.metrics.ObserveSwitch(k.sc.Stats())
	}
	if err != nil {
		return rec, err
	}
	if runningSaved != nil {
		k.running = nil
	}
	if k.trace != nil {
		k.trace.Trace("policy_switched", map[string]any{"from": string(from.ID()), "to": string(to)})
	}
	return rec, nil
}
