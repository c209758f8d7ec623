package tcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableAddLookupDelete(t *testing.T) {
	tb := NewTable()

	task, err := tb.Add(1, 100, Stack{Size: 1024})
	require.NoError(t, err)
	assert.True(t, task.Valid())
	assert.Equal(t, Ready, task.State)
	assert.Equal(t, uint8(100), task.EffectivePriority)

	got := tb.Lookup(1)
	assert.Same(t, task, got)

	assert.Nil(t, tb.Lookup(2))

	require.NoError(t, tb.Delete(1))
	assert.False(t, task.Valid(), "deleted TCB must fail validity check")
	assert.Nil(t, tb.Lookup(1))
}

func TestTableAddDuplicateID(t *testing.T) {
	tb := NewTable()
	_, err := tb.Add(1, 1, Stack{})
	require.NoError(t, err)
	_, err = tb.Add(1, 2, Stack{})
	assert.Error(t, err)
}

func TestTableDeleteRunningRejected(t *testing.T) {
	tb := NewTable()
	task, err := tb.Add(1, 1, Stack{})
	require.NoError(t, err)
	task.State = Running
	assert.Error(t, tb.Delete(1))
}

func TestMigratable(t *testing.T) {
	tb := NewTable()
	task, _ := tb.Add(1, 1, Stack{})

	assert.True(t, task.Migratable())

	task.State = Running
	assert.False(t, task.Migratable(), "running task is not migratable directly")

	task.State = Ready
	task.SetMigrating(true)
	assert.False(t, task.Migratable(), "already in flight")

	task.SetMigrating(false)
	task.State = Deleted
	assert.False(t, task.Migratable())
}
