// Command dsrtos-sim drives the scheduler core end to end on top of the
// in-process hardware fakes in pkg/collab/simhw: create tasks, advance the
// simulated timer, request policy switches, and report the resulting
// metrics. It stands in for the timer-tick handler and task-lifecycle
// calls a real board's startup code would make, so the core can be
// exercised without target hardware.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := rootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsrtos-sim",
		Short: "Simulation harness for the DSRTOS scheduler core",
		Long: `dsrtos-sim exercises the scheduler core (pkg/kernel and its
components) against in-process fakes of the board's interrupt controller,
timer, task manager, and trace sink. It is a bring-up and demo tool, not
part of the core itself.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "scenario config file (YAML); defaults built in if unset")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(benchCmd())
	cmd.AddCommand(switchDemoCmd())
	return cmd
}
