// Package metrics implements the scheduling metrics collector: a
// low-overhead aggregator of decision latency, switch outcomes,
// starvation and aging activity, and a composite scheduling health score,
// with an optional Prometheus export for out-of-process observability.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/switchctl"
)

// latencyWindowSize bounds the decision-latency ring used for the running
// mean. The reported max covers every recorded decision, not only the
// window.
const latencyWindowSize = 256

// Snapshot is a point-in-time read of every counter the collector tracks.
type Snapshot struct {
	DecisionLatencyMeanNanos int64
	DecisionLatencyMaxNanos  int64
	TotalSwitches            uint64
	SuccessfulSwitches       uint64
	RollbackCount            uint64
	BudgetViolations         uint64
	StarvationBoosts         uint64
	AgingAdjustments         uint64
	// HealthScore is the composite [0, 100] indicator; see healthScore
	// for the formula.
	HealthScore float64
}

// Collector aggregates scheduling metrics across the active policy and the
// switch controller. It never allocates on the decision-latency hot path:
// RecordDecision writes into a fixed-size ring.
type Collector struct {
	mu sync.Mutex

	latencies    [latencyWindowSize]time.Duration
	latencyCount int
	latencyNext  int
	latencySum   time.Duration
	latencyMax   time.Duration

	policyStats policy.Stats
	switchStats switchctl.Stats

	// Prometheus instruments: the latency histogram is observed on every
	// RecordDecision call, the switch/rollback counters in ObserveSwitch,
	// and the health gauge in Snapshot().
	promDecisionLatency prometheus.Histogram
	promSwitches        prometheus.Counter
	promRollbacks       prometheus.Counter
	promHealth          prometheus.Gauge
}

// New builds a Collector. If reg is non-nil, the collector's Prometheus
// instruments are registered with it; a nil registry skips export
// entirely, leaving Snapshot as the only way to read metrics (suitable
// for the bare simulation harness).
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		promDecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsrtos_decision_latency_seconds",
			Help:    "Scheduling decision (select_next) latency.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 2, 16),
		}),
		promSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsrtos_policy_switches_total",
			Help: "Total policy switch attempts.",
		}),
		promRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsrtos_policy_switch_rollbacks_total",
			Help: "Total policy switches that rolled back.",
		}),
		promHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dsrtos_scheduling_health_score",
			Help: "Composite scheduling health score in [0, 100].",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.promDecisionLatency, c.promSwitches, c.promRollbacks, c.promHealth)
	}
	return c
}

// RecordDecision records one select_next call's latency.
func (c *Collector) RecordDecision(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latencyCount < latencyWindowSize {
		c.latencyCount++
	} else {
		c.latencySum -= c.latencies[c.latencyNext]
	}
	c.latencies[c.latencyNext] = d
	c.latencySum += d
	c.latencyNext = (c.latencyNext + 1) % latencyWindowSize
	if d > c.latencyMax {
		c.latencyMax = d
	}
	if c.promDecisionLatency != nil {
		c.promDecisionLatency.Observe(d.Seconds())
	}
}

// ObservePolicy folds in the active policy's counters. Called once per
// tick by the kernel orchestrator.
func (c *Collector) ObservePolicy(s policy.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyStats = s
}

// ObserveSwitch folds in the switch controller's counters, incrementing
// the Prometheus switch/rollback counters by the delta since the last
// observation.
func (c *Collector) ObserveSwitch(s switchctl.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.promSwitches != nil && s.TotalSwitches > c.switchStats.TotalSwitches {
		c.promSwitches.Add(float64(s.TotalSwitches - c.switchStats.TotalSwitches))
	}
	if c.promRollbacks != nil && s.RollbackCount > c.switchStats.RollbackCount {
		c.promRollbacks.Add(float64(s.RollbackCount - c.switchStats.RollbackCount))
	}
	c.switchStats = s
}

// Snapshot returns every tracked counter plus the current health score.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mean time.Duration
	if c.latencyCount > 0 {
		mean = c.latencySum / time.Duration(c.latencyCount)
	}

	snap := Snapshot{
		DecisionLatencyMeanNanos: mean.Nanoseconds(),
		DecisionLatencyMaxNanos:  c.latencyMax.Nanoseconds(),
		TotalSwitches:            c.switchStats.TotalSwitches,
		SuccessfulSwitches:       c.switchStats.SuccessfulSwitches,
		RollbackCount:            c.switchStats.RollbackCount,
		BudgetViolations:         c.switchStats.BudgetViolations,
		StarvationBoosts:         c.policyStats.StarvationBoosts,
		AgingAdjustments:         c.policyStats.AgingAdjustments,
	}
	snap.HealthScore = healthScore(snap)
	if c.promHealth != nil {
		c.promHealth.Set(snap.HealthScore)
	}
	return snap
}

// healthScore computes the composite [0, 100] indicator. It starts at 100
// and subtracts weighted penalties: a rollback is the strongest signal
// something is structurally wrong with switch sizing or timing, a budget
// violation means a switch blew its latency envelope without actually
// failing, and starvation boosts are evidence the active policy is under
// sustained load. The weights are deliberately simple (linear, capped at
// zero) rather than a learned or configurable model — this is a coarse
// operator-facing dial, not a certification artifact.
func healthScore(s Snapshot) float64 {
	score := 100.0

	if s.TotalSwitches > 0 {
		rollbackRate := float64(s.RollbackCount) / float64(s.TotalSwitches)
		score -= rollbackRate * 50
		violationRate := float64(s.BudgetViolations) / float64(s.TotalSwitches)
		score -= violationRate * 20
	}

	if s.StarvationBoosts > 0 {
		penalty := float64(s.StarvationBoosts)
		if penalty > 20 {
			penalty = 20
		}
		score -= penalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
