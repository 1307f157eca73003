package tick

import (
	"math"
	"sync/atomic"
)

// Stats accumulates execution timing across a shard's lifetime. All fields
// are updated with relaxed atomics; readers get a consistent-enough view for
// observability without touching the dispatch path's cache lines more than
// once per execution.
type Stats struct {
	total      atomic.Uint64
	min        atomic.Uint64
	max        atomic.Uint64
	executions atomic.Uint64
	overBudget atomic.Uint64
}

// NewStats returns zeroed statistics.
func NewStats() *Stats {
	s := &Stats{}
	s.min.Store(math.MaxUint64)
	return s
}

// Record adds one execution of the given tick count.
func (s *Stats) Record(ticks uint64, budget uint64) {
	s.total.Add(ticks)
	s.executions.Add(1)
	if ticks > budget {
		s.overBudget.Add(1)
	}

	for {
		cur := s.min.Load()
		if ticks >= cur || s.min.CompareAndSwap(cur, ticks) {
			break
		}
	}
	for {
		cur := s.max.Load()
		if ticks <= cur || s.max.CompareAndSwap(cur, ticks) {
			break
		}
	}
}

// Snapshot is a point-in-time copy of the statistics.
type Snapshot struct {
	Executions uint64
	TicksTotal uint64
	TicksMin   uint64
	TicksMax   uint64
	TicksAvg   uint64
	OverBudget uint64
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	execs := s.executions.Load()
	total := s.total.Load()
	snap := Snapshot{
		Executions: execs,
		TicksTotal: total,
		TicksMin:   s.min.Load(),
		TicksMax:   s.max.Load(),
		OverBudget: s.overBudget.Load(),
	}
	if execs > 0 {
		snap.TicksAvg = total / execs
	}
	if snap.Executions == 0 {
		snap.TicksMin = 0
	}
	return snap
}

// Compliance returns the percentage of executions that stayed within budget.
func (s Snapshot) Compliance() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Executions-s.OverBudget) / float64(s.Executions) * 100
}
