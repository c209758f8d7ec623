package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/dsrtos-core/pkg/migration"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

// logWriter is where the harness's slog text handler writes. Tests that
// import this package don't exist (it's package main), so this just needs
// to be os.Stderr for a CLI tool; kept as a var so a future --log-file flag
// can redirect it without touching newHarness.
var logWriter io.Writer = os.Stderr

func runCmd() *cobra.Command {
	var taskCount int
	var ticks int
	var initial string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create tasks, advance the simulated timer, and report metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			h, err := newHarness(cfg, policy.ID(initial), false)
			if err != nil {
				return err
			}

			for i := 0; i < taskCount; i++ {
				base := uint8((i * 251) % 256)
				if _, err := h.Kernel.CreateTask(base, tcb.Stack{Size: 1024}); err != nil {
					return fmt.Errorf("create task %d: %w", i, err)
				}
			}

			now := time.Now()
			for i := 0; i < ticks; i++ {
				if err := h.Kernel.Tick(now); err != nil {
					return fmt.Errorf("tick %d: %w", i, err)
				}
				now = now.Add(time.Millisecond)
			}

			if halted, code, msg := h.Assert.Halted(); halted {
				return fmt.Errorf("scheduler core halted: code=%d msg=%s", code, msg)
			}

			snap := h.Metrics.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "active_policy=%s tasks=%d ticks=%d\n", h.Kernel.ActivePolicy(), taskCount, ticks)
			fmt.Fprintf(cmd.OutOrStdout(), "decision_latency_mean_ns=%d max_ns=%d\n",
				snap.DecisionLatencyMeanNanos, snap.DecisionLatencyMaxNanos)
			fmt.Fprintf(cmd.OutOrStdout(), "switches=%d rollbacks=%d starvation_boosts=%d aging_adjustments=%d health_score=%.1f\n",
				snap.TotalSwitches, snap.RollbackCount, snap.StarvationBoosts, snap.AgingAdjustments, snap.HealthScore)
			return nil
		},
	}

	cmd.Flags().IntVar(&taskCount, "tasks", 8, "number of tasks to create")
	cmd.Flags().IntVar(&ticks, "ticks", 100, "number of simulated timer ticks to advance")
	cmd.Flags().StringVar(&initial, "initial", string(policy.RoundRobin), "initial active policy (round_robin|priority)")
	return cmd
}

func benchCmd() *cobra.Command {
	var taskCount int
	var selections int
	var policyName string

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Repeatedly schedule and report decision-latency statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			h, err := newHarness(cfg, policy.ID(policyName), false)
			if err != nil {
				return err
			}

			for i := 0; i < taskCount; i++ {
				base := uint8((i * 37) % 256)
				if _, err := h.Kernel.CreateTask(base, tcb.Stack{Size: 1024}); err != nil {
					return fmt.Errorf("create task %d: %w", i, err)
				}
			}

			for i := 0; i < selections; i++ {
				task, err := h.Kernel.Reschedule()
				if err != nil {
					return fmt.Errorf("reschedule %d: %w", i, err)
				}
				if task == nil {
					break
				}
			}

			snap := h.Metrics.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "selections=%d mean_latency_ns=%d max_latency_ns=%d\n",
				selections, snap.DecisionLatencyMeanNanos, snap.DecisionLatencyMaxNanos)
			return nil
		},
	}

	cmd.Flags().IntVar(&taskCount, "tasks", 16, "number of tasks to create")
	cmd.Flags().IntVar(&selections, "selections", 10000, "number of schedule() calls to time")
	cmd.Flags().StringVar(&policyName, "policy", string(policy.RoundRobin), "policy to benchmark (round_robin|priority)")
	return cmd
}

func switchDemoCmd() *cobra.Command {
	var taskCount int
	var strategyName string
	var forced bool
	var forceRollback bool

	cmd := &cobra.Command{
		Use:   "switch-demo",
		Short: "Fill the active policy, switch to the other, and report the outcome",
		Long: `switch-demo creates tasks under round-robin, then drives a live
switch to the priority policy using the given migration strategy. With
--force-rollback it caps the target's node pool below the task count so
the switch is guaranteed to fail partway through MigratingTasks and roll
back, mirroring the spec's rollback scenario.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			if forceRollback {
				cfg.NodePoolSize = taskCount / 2
				if cfg.NodePoolSize < 1 {
					cfg.NodePoolSize = 1
				}
			}

			h, err := newHarness(cfg, policy.RoundRobin, false)
			if err != nil {
				return err
			}

			for i := 0; i < taskCount; i++ {
				base := uint8((i * 16) % 256)
				if _, err := h.Kernel.CreateTask(base, tcb.Stack{Size: 1024}); err != nil {
					return fmt.Errorf("create task %d: %w", i, err)
				}
			}

			strategy := migration.Strategy(strategyName)
			rec, err := h.Kernel.SwitchPolicy(policy.Priority, forced, strategy, 0)
			fmt.Fprintf(cmd.OutOrStdout(), "outcome=%s phase=%s active_policy=%s\n",
				rec.Outcome, h.Kernel.SwitchController().Phase(), h.Kernel.ActivePolicy())
			stats := h.Kernel.SwitchController().Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "total_switches=%d successful=%d rollbacks=%d budget_violations=%d\n",
				stats.TotalSwitches, stats.SuccessfulSwitches, stats.RollbackCount, stats.BudgetViolations)
			if err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&taskCount, "tasks", 16, "number of tasks to fill the source policy with")
	cmd.Flags().StringVar(&strategyName, "strategy", string(migration.PriorityBased), "migration strategy (preserve_order|priority_based|deadline_based)")
	cmd.Flags().BoolVar(&forced, "force", false, "bypass the minimum-switch-interval policy")
	cmd.Flags().BoolVar(&forceRollback, "force-rollback", false, "cap the target pool below the task count to force a rollback")
	return cmd
}
