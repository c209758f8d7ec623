package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/priority"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/roundrobin"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

func startedPriority(t *testing.T, poolSize int) *priority.Policy {
	t.Helper()
	p := priority.New(&priority.Config{NodePoolSize: poolSize})
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	return p
}

func startedRR(t *testing.T) *roundrobin.Policy {
	t.Helper()
	p := roundrobin.New(nil)
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	return p
}

// TestPolicySwitchConservesTasks checks that migrating a full batch of
// tasks between policies loses none and duplicates none.
func TestPolicySwitchConservesTasks(t *testing.T) {
	rr := startedRR(t)

	table := tcb.NewTable()
	var saved []policy.SavedTask
	for i := 0; i < 16; i++ {
		task, err := table.Add(uint32(i+1), uint8(i*16), tcb.Stack{})
		require.NoError(t, err)
		require.NoError(t, rr.AddTask(task))
		saved = append(saved, policy.SavedTask{Task: task})
	}

	target := startedPriority(t, 32)
	n, err := Run(PriorityBased, saved, target, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	for i := 0; i < 16; i++ {
		assert.Equal(t, int32(1), target.LevelCount(i*16), "task %d lands in its own priority queue", i)
	}

	state, err := rr.SaveState()
	require.NoError(t, err)
	assert.Empty(t, state.Tasks, "source queue is empty after migration")
}

func TestPreserveOrderIsStable(t *testing.T) {
	rr := startedRR(t)
	table := tcb.NewTable()
	var saved []policy.SavedTask
	ids := []uint32{10, 20, 30}
	for _, id := range ids {
		task, err := table.Add(id, 0, tcb.Stack{})
		require.NoError(t, err)
		require.NoError(t, rr.AddTask(task))
		saved = append(saved, policy.SavedTask{Task: task})
	}

	target := startedRR(t)
	_, err := Run(PreserveOrder, saved, target, 0, nil)
	require.NoError(t, err)

	for _, want := range ids {
		got, err := target.Schedule()
		require.NoError(t, err)
		assert.Equal(t, want, got.ID)
	}
}

func TestMigrationProgressMonotonicAndBounded(t *testing.T) {
	rr := startedRR(t)
	table := tcb.NewTable()
	var saved []policy.SavedTask
	for i := 0; i < 5; i++ {
		task, err := table.Add(uint32(i+1), 0, tcb.Stack{})
		require.NoError(t, err)
		require.NoError(t, rr.AddTask(task))
		saved = append(saved, policy.SavedTask{Task: task})
	}

	target := startedRR(t)
	var seen []int
	_, err := Run(PreserveOrder, saved, target, 0, func(done, total int) {
		assert.Equal(t, 5, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)

	for i, v := range seen {
		assert.Equal(t, i+1, v)
		assert.LessOrEqual(t, v, 5)
	}
}

func TestMigrationSkipsDeletedAndInFlight(t *testing.T) {
	a := &tcb.TCB{ID: 1, Magic: 0x54434256, State: tcb.Ready}
	deleted := &tcb.TCB{ID: 2, Magic: 0xDEADC0DE, State: tcb.Ready}
	inFlight := &tcb.TCB{ID: 3, Magic: 0x54434256, State: tcb.Ready}
	inFlight.SetMigrating(true)

	saved := []policy.SavedTask{{Task: a}, {Task: deleted}, {Task: inFlight}}
	elig := Eligible(saved)
	require.Len(t, elig, 1)
	assert.Equal(t, uint32(1), elig[0].Task.ID)
}

func TestDeadlineBasedPlacesImminentAtHead(t *testing.T) {
	urgent := &tcb.TCB{ID: 1, Magic: 0x54434256, State: tcb.Ready, BasePriority: 200}
	urgent.Stats.DeadlineMicros = 100
	relaxed := &tcb.TCB{ID: 2, Magic: 0x54434256, State: tcb.Ready, BasePriority: 50}
	relaxed.Stats.DeadlineMicros = 1_000_000

	saved := []policy.SavedTask{{Task: relaxed}, {Task: urgent}}

	target := startedRR(t)
	_, err := Run(DeadlineBased, saved, target, 50, nil)
	require.NoError(t, err)

	first, err := target.Schedule()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.ID, "imminent deadline task placed at head")
}
