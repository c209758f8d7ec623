// Package queue implements a fixed-capacity node pool and intrusive
// doubly-linked queue: O(1) enqueue/dequeue/remove without heap
// allocation, bounded capacity, first-fit allocation, and corruption
// detection via a per-queue integrity tag.
package queue

import (
	"math/bits"
	"time"

	"github.com/khryptorgraphics/dsrtos-core/pkg/errs"
	"github.com/khryptorgraphics/dsrtos-core/pkg/tcb"
)

const none int32 = -1

// Node is one arena slot: a queue-link wrapper around a non-owning TCB
// reference plus the bookkeeping the policies need (enqueue timestamp for
// FIFO/aging, boost/age counters for starvation handling).
type Node struct {
	Task        *tcb.TCB
	EnqueueTime time.Time
	BoostCount  uint32
	AgeCount    uint32
	Level       int // priority level this node is currently filed under

	prev, next int32
	inUse      bool
}

// Pool is a fixed-capacity arena of Nodes indexed by slot number, with a
// first-fit occupancy bitmap.
type Pool struct {
	nodes     []Node
	occupancy []uint32
	capacity  int
	used      int
}

// NewPool allocates a pool of the given fixed capacity.
func NewPool(capacity int) *Pool {
	words := (capacity + 31) / 32
	return &Pool{
		nodes:     make([]Node, capacity),
		occupancy: make([]uint32, words),
		capacity:  capacity,
	}
}

// Capacity returns the pool's fixed capacity.
func (p *Pool) Capacity() int { return p.capacity }

// Used returns the number of currently allocated nodes.
func (p *Pool) Used() int { return p.used }

// Alloc finds the first free slot (first-fit over word-sized chunks of the
// occupancy bitmap), marks it used, and returns its index. Returns
// ResourceExhausted if the pool is full.
func (p *Pool) Alloc(task *tcb.TCB) (int32, error) {
	for w := 0; w < len(p.occupancy); w++ {
		word := p.occupancy[w]
		if word == ^uint32(0) {
			continue
		}
		bit := bits.TrailingZeros32(^word)
		slot := w*32 + bit
		if slot >= p.capacity {
			continue
		}
		p.occupancy[w] |= 1 << uint(bit)
		p.used++
		n := &p.nodes[slot]
		*n = Node{Task: task, EnqueueTime: time.Now(), prev: none, next: none, inUse: true}
		return int32(slot), nil
	}
	return none, errs.New(errs.ResourceExhausted, "node pool exhausted")
}

// Free clears the occupancy bit and zeros the node.
func (p *Pool) Free(slot int32) {
	if slot < 0 || int(slot) >= p.capacity {
		return
	}
	w, bit := int(slot)/32, uint(slot)%32
	if p.occupancy[w]&(1<<bit) == 0 {
		return // double-free guard; already free
	}
	p.occupancy[w] &^= 1 << bit
	p.used--
	p.nodes[slot] = Node{prev: none, next: none}
}

// Get returns a pointer to the node at slot, or nil if slot is invalid or
// unused (stray-pointer / use-after-free detection).
func (p *Pool) Get(slot int32) *Node {
	if slot < 0 || int(slot) >= p.capacity {
		return nil
	}
	n := &p.nodes[slot]
	if !n.inUse {
		return nil
	}
	return n
}
