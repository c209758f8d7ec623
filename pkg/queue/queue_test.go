package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

func TestPoolAllocExhaustion(t *testing.T) {
	p := NewPool(2)
	task := &tcb.TCB{}

	s1, err := p.Alloc(task)
	require.NoError(t, err)
	s2, err := p.Alloc(task)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)

	_, err = p.Alloc(task)
	assert.Error(t, err, "pool exhausted must return ResourceExhausted")
	assert.Equal(t, 2, p.Used())
}

func TestPoolFreeAndReuse(t *testing.T) {
	p := NewPool(1)
	task := &tcb.TCB{}

	slot, err := p.Alloc(task)
	require.NoError(t, err)
	p.Free(slot)
	assert.Equal(t, 0, p.Used())
	assert.Nil(t, p.Get(slot), "freed slot must not be readable")

	slot2, err := p.Alloc(task)
	require.NoError(t, err)
	assert.Equal(t, slot, slot2, "first-fit reuses the freed slot")
}

func TestQueueFIFO(t *testing.T) {
	p := NewPool(4)
	q := NewQueue(p)

	var slots []int32
	for i := 0; i < 3; i++ {
		s, err := p.Alloc(&tcb.TCB{ID: uint32(i)})
		require.NoError(t, err)
		q.PushBack(s)
		slots = append(slots, s)
	}

	assert.Equal(t, int32(3), q.Count())

	for i := 0; i < 3; i++ {
		s, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, slots[i], s)
	}
	assert.True(t, q.Empty())
	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestQueueRemoveMiddle(t *testing.T) {
	p := NewPool(4)
	q := NewQueue(p)

	s0, _ := p.Alloc(&tcb.TCB{ID: 0})
	s1, _ := p.Alloc(&tcb.TCB{ID: 1})
	s2, _ := p.Alloc(&tcb.TCB{ID: 2})
	q.PushBack(s0)
	q.PushBack(s1)
	q.PushBack(s2)

	assert.True(t, q.Remove(s1))
	assert.Equal(t, int32(2), q.Count())

	first, _ := q.PopFront()
	assert.Equal(t, s0, first)
	second, _ := q.PopFront()
	assert.Equal(t, s2, second)
}

func TestQueuePushFront(t *testing.T) {
	p := NewPool(2)
	q := NewQueue(p)

	s0, _ := p.Alloc(&tcb.TCB{ID: 0})
	s1, _ := p.Alloc(&tcb.TCB{ID: 1})
	q.PushBack(s0)
	q.PushFront(s1)

	first, _ := q.PopFront()
	assert.Equal(t, s1, first)
}

func TestQueueEachVisitsInOrder(t *testing.T) {
	p := NewPool(3)
	q := NewQueue(p)
	var want []uint32
	for i := uint32(0); i < 3; i++ {
		s, _ := p.Alloc(&tcb.TCB{ID: i})
		q.PushBack(s)
		want = append(want, i)
	}

	var got []uint32
	q.Each(func(slot int32, n *Node) {
		got = append(got, n.Task.ID)
	})
	assert.Equal(t, want, got)
}
