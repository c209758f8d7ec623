package switchctl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/dsrtos-core/pkg/collab/simhw"
	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/gate"
	"github.com/khryptorgraphics/dsrtos-core/pkg/migration"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/priority"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/roundrobin"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

func newController(t *testing.T, cfg *Config) (*Controller, *simhw.AssertService) {
	t.Helper()
	ic := simhw.NewInterruptController()
	halt := simhw.NewAssertService(nil)
	g := gate.New(ic, halt, 0)
	return New(g, simhw.NewTraceSink(nil), halt, cfg), halt
}

func startedRR(t *testing.T, poolSize int) *roundrobin.Policy {
	t.Helper()
	p := roundrobin.New(&roundrobin.Config{NodePoolSize: poolSize})
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	return p
}

func startedPriority(t *testing.T, poolSize int) *priority.Policy {
	t.Helper()
	p := priority.New(&priority.Config{NodePoolSize: poolSize})
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	return p
}

// seedRR populates rr with n live, migratable tasks at priorities
// 0, step, 2*step, ... via a real task table, so every test exercising the
// migration engine gets tasks that actually pass Migratable().
func seedRR(t *testing.T, rr *roundrobin.Policy, n int, step int) *tcb.Table {
	t.Helper()
	table := tcb.NewTable()
	for i := 0; i < n; i++ {
		task, err := table.Add(uint32(i+1), uint8(i*step), tcb.Stack{})
		require.NoError(t, err)
		require.NoError(t, rr.AddTask(task))
	}
	return table
}

func TestSwitchMigratesAllTasksAndActivatesTarget(t *testing.T) {
	c, _ := newController(t, nil)
	src := startedRR(t, 32)
	dst := startedPriority(t, 32)
	seedRR(t, src, 5, 10)

	activated := false
	rec, err := c.Switch(Request{
		From:     src,
		To:       dst,
		Forced:   true,
		Strategy: migration.PriorityBased,
		Activate: func() error { activated = true; return nil },
	})
	require.NoError(t, err)
	assert.True(t, activated)
	assert.Equal(t, "success", rec.Outcome)
	assert.Equal(t, policy.RoundRobin, rec.From)
	assert.Equal(t, policy.Priority, rec.To)
	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, uint64(1), c.Stats().SuccessfulSwitches)
	assert.Len(t, c.History(), 1)

	for i := 0; i < 5; i++ {
		assert.Equal(t, int32(1), dst.LevelCount(i*10))
	}
}

func TestSwitchEmitsMonotonicProgress(t *testing.T) {
	c, _ := newController(t, nil)
	src := startedRR(t, 32)
	dst := startedPriority(t, 32)
	seedRR(t, src, 5, 10)

	var seen []int
	_, err := c.Switch(Request{
		From:     src,
		To:       dst,
		Forced:   true,
		Strategy: migration.PriorityBased,
		Progress: func(done, total int) {
			assert.Equal(t, 5, total)
			seen = append(seen, done)
		},
	})
	require.NoError(t, err)

	require.Len(t, seen, 5)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
		assert.LessOrEqual(t, v, 5)
	}
}

func TestSwitchRejectsSamePolicy(t *testing.T) {
	c, _ := newController(t, nil)
	src := startedRR(t, 8)
	_, err := c.Switch(Request{From: src, To: src, Forced: true})
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestSwitchRejectsReentrantCallAsBusy(t *testing.T) {
	c, _ := newController(t, nil)
	src := startedRR(t, 8)
	dst := startedPriority(t, 8)
	seedRR(t, src, 1, 0)

	var nestedErr error
	_, err := c.Switch(Request{
		From:     src,
		To:       dst,
		Forced:   true,
		Strategy: migration.PreserveOrder,
		Activate: func() error {
			_, nestedErr = c.Switch(Request{From: dst, To: src, Forced: true})
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, errs.Is(nestedErr, errs.Busy))
}

func TestMinSwitchIntervalBlocksSecondNonForcedSwitch(t *testing.T) {
	c, _ := newController(t, &Config{MinSwitchIntervalMs: 60_000})
	src := startedRR(t, 8)
	dst := startedPriority(t, 8)
	seedRR(t, src, 1, 0)

	_, err := c.Switch(Request{From: src, To: dst, Strategy: migration.PreserveOrder})
	require.NoError(t, err)

	_, err = c.Switch(Request{From: dst, To: src, Strategy: migration.PreserveOrder})
	assert.True(t, errs.Is(err, errs.PolicyViolation))

	_, err = c.Switch(Request{From: dst, To: src, Forced: true, Strategy: migration.PreserveOrder})
	assert.NoError(t, err)
}

func TestExternalValidatorRefusal(t *testing.T) {
	refuse := errors.New("board phase forbids switch")
	c, _ := newController(t, &Config{Validate: func(from, to policy.ID) error { return refuse }})
	src := startedRR(t, 8)
	dst := startedPriority(t, 8)

	_, err := c.Switch(Request{From: src, To: dst, Forced: true})
	assert.True(t, errs.Is(err, errs.PolicyViolation))
	assert.Equal(t, Idle, c.Phase())
}

// TestSwitchRollsBackOnMigrationExhaustion is the rollback scenario: the
// target's node pool is too small for the source's task count, so
// migration fails partway and every task must end up back on the source
// with none left stranded in the target.
func TestSwitchRollsBackOnMigrationExhaustion(t *testing.T) {
	c, _ := newController(t, nil)
	src := startedRR(t, 32)
	dst := startedPriority(t, 2)
	seedRR(t, src, 5, 10)

	_, err := c.Switch(Request{From: src, To: dst, Forced: true, Strategy: migration.PriorityBased})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ResourceExhausted))

	assert.Equal(t, Idle, c.Phase())
	assert.False(t, c.Broken())
	assert.Equal(t, uint64(1), c.Stats().RollbackCount)
	assert.Equal(t, int32(5), src.ReadyCount(), "every task restored to the source")
	for i := 0; i < 5; i++ {
		assert.Equal(t, int32(0), dst.LevelCount(i*10), "nothing left stranded in the target")
	}

	hist := c.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "migration_failed", hist[0].Outcome)
}

// failingRestoreRR wraps a round-robin policy whose RestoreState always
// fails, to drive the switch controller into its unrecoverable rollback
// path.
type failingRestoreRR struct {
	*roundrobin.Policy
}

func (f failingRestoreRR) RestoreState(policy.SavedState) error {
	return errors.New("simulated storage fault")
}

func TestRollbackFailureIsFatal(t *testing.T) {
	c, halt := newController(t, nil)
	inner := startedRR(t, 32)
	src := failingRestoreRR{inner}
	dst := startedPriority(t, 2)
	seedRR(t, inner, 5, 10)

	_, err := c.Switch(Request{From: src, To: dst, Forced: true, Strategy: migration.PriorityBased})
	require.Error(t, err)

	assert.True(t, c.Broken())
	assert.Equal(t, ErrorState, c.Phase())
	halted, code, _ := halt.Halted()
	assert.True(t, halted)
	assert.Equal(t, uint32(2001), code)

	_, err = c.Switch(Request{From: dst, To: src, Forced: true})
	assert.True(t, errs.Is(err, errs.Busy), "a broken controller refuses every further switch")
}
