package switchctl

import (
	"time"

	"github.com/google/uuid"

	"github.com/khryptorgraphics/dsrtos-core/pkg/migration"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy"
)

// HistoryRecord is one entry in the switch controller's diagnostic ring:
// an ID unique across the process's lifetime (useful for correlating a
// record against external trace/log output), timestamp, source and
// target policy, the migration strategy used, the outcome label, and the
// wall-clock duration of the switch.
type HistoryRecord struct {
	ID             uuid.UUID
	Timestamp      time.Time
	From           policy.ID
	To             policy.ID
	Strategy       migration.Strategy
	Outcome        string
	DurationMicros uint64
}

// historyRing is a fixed-depth circular buffer of HistoryRecord: once full,
// each add overwrites the oldest retained entry.
type historyRing struct {
	buffer []HistoryRecord
	head   int
	tail   int
	size   int
	cap    int
}

func newHistoryRing(depth int) *historyRing {
	if depth < 32 {
		depth = 32
	}
	return &historyRing{buffer: make([]HistoryRecord, depth), cap: depth}
}

func (r *historyRing) add(rec HistoryRecord) {
	r.buffer[r.tail] = rec
	r.tail = (r.tail + 1) % r.cap
	if r.size < r.cap {
		r.size++
	} else {
		r.head = (r.head + 1) % r.cap
	}
}

// All returns every record in chronological (timestamp-ascending) order.
func (r *historyRing) All() []HistoryRecord {
	out := make([]HistoryRecord, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buffer[(r.head+i)%r.cap]
	}
	return out
}
