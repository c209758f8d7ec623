package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/khryptorgraphics/dsrtos-core/internal/config"
	"github.com/khryptorgraphics/dsrtos-core/pkg/collab/simhw"
	"github.com/khryptorgraphics/dsrtos-core/pkg/kernel"
	"github.com/khryptorgraphics/dsrtos-core/pkg/metrics"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/priority"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/roundrobin"
)

// harness bundles a running kernel with the simulated collaborators the
// CLI needs direct access to (to advance time, inspect halts, read
// metrics) without reaching back into the kernel's private state.
type harness struct {
	Kernel  *kernel.Kernel
	Timer   *simhw.Timer
	Assert  *simhw.AssertService
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// loadConfig reads cfgFile if set, otherwise returns the built-in defaults.
func loadConfig(cfgFile string) (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(cfgFile)
}

// newHarness wires one kernel with both policies registered and initial
// active as specified, a slog-backed trace sink, and a Prometheus-backed
// metrics collector when withProm is true.
func newHarness(cfg *config.Config, initial policy.ID, withProm bool) (*harness, error) {
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	timer := simhw.NewTimer()
	assertSvc := simhw.NewAssertService(logger)
	trace := simhw.NewTraceSink(logger)
	interrupts := simhw.NewInterruptController()
	tasks := simhw.NewTaskManager()

	rr := roundrobin.New(cfg.RoundRobinConfig())
	if err := rr.Init(); err != nil {
		return nil, err
	}
	pr := priority.New(cfg.PriorityConfig())
	if err := pr.Init(); err != nil {
		return nil, err
	}

	var reg prometheus.Registerer
	if withProm {
		reg = prometheus.NewRegistry()
	}
	collector := metrics.New(reg)

	k, err := kernel.New(kernel.Config{
		InterruptController: interrupts,
		Assert:              assertSvc,
		TaskManager:         tasks,
		Trace:               trace,
		GateMaxDepth:        cfg.GateMaxDepth(),
		Switch:              cfg.SwitchConfig(),
		Policies: map[policy.ID]policy.Policy{
			policy.RoundRobin: rr,
			policy.Priority:   pr,
		},
		Initial: initial,
	}, collector)
	if err != nil {
		return nil, err
	}

	return &harness{
		Kernel:  k,
		Timer:   timer,
		Assert:  assertSvc,
		Metrics: collector,
		Logger:  logger,
	}, nil
}
