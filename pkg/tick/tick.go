// Package tick provides the cycle-accurate timer and tick budget that bound
// reflex-tier execution.
//
// A "tick" is one unit of the kernel's logical cycle counter. The counter
// source is injectable: production shards advance a virtual counter by the
// deterministic cost of each dispatched pattern, so that two executions of
// the same task always observe the same elapsed ticks. Wall-clock sources are
// only used for observability, never for budget decisions.
package tick

import "math"

// DefaultBudget is the maximum tick budget for reflex-tier execution
// (the Chatman constant).
const DefaultBudget = 8

// Counter reads the current value of a monotonic cycle counter.
type Counter func() uint64

// Clock measures elapsed ticks against a baseline captured by Start.
type Clock struct {
	counter Counter
	base    uint64
}

// NewClock creates a clock over the given counter source.
func NewClock(c Counter) *Clock {
	if c == nil {
		panic("tick: nil counter")
	}
	return &Clock{counter: c}
}

// Start captures the current counter value as the measurement baseline.
// The read is ordered before any subsequent Elapsed call on the same clock.
func (c *Clock) Start() {
	c.base = c.counter()
}

// Elapsed returns ticks since Start, saturating at zero if the counter
// appears to have moved backwards.
func (c *Clock) Elapsed() uint64 {
	now := c.counter()
	if now < c.base {
		return 0
	}
	return now - c.base
}

// Status is the outcome of a budget consumption.
type Status uint8

const (
	// OK means the budget still has headroom.
	OK Status = iota
	// Exhausted means consumption has met or passed the limit.
	Exhausted
)

func (s Status) String() string {
	if s == Exhausted {
		return "exhausted"
	}
	return "ok"
}

// statusTable maps boolean-as-integer exhaustion to Status without a
// conditional branch on the consumption path.
var statusTable = [2]Status{OK, Exhausted}

// Budget is a bounded tick counter consumed by execution. It is owned
// exclusively by one shard and reset between tasks; it is never shared
// across goroutines.
type Budget struct {
	Limit uint64
	Used  uint64
}

// NewBudget returns a budget with the given limit, or the default limit
// when limit is zero.
func NewBudget(limit uint64) Budget {
	if limit == 0 {
		limit = DefaultBudget
	}
	return Budget{Limit: limit}
}

// Consume adds n ticks to the used count, saturating instead of wrapping,
// and reports whether the budget is exhausted. The status is selected from
// a 2-element table indexed by boolean-as-integer so the instruction cost
// is data-independent.
func (b *Budget) Consume(n uint64) Status {
	used := b.Used + n
	if used < b.Used {
		used = math.MaxUint64
	}
	b.Used = used
	return statusTable[b2i(b.Used > b.Limit)]
}

// Remaining returns the unconsumed ticks, zero when exhausted.
func (b *Budget) Remaining() uint64 {
	if b.Used >= b.Limit {
		return 0
	}
	return b.Limit - b.Used
}

// Reset clears the used count for the next task.
func (b *Budget) Reset() {
	b.Used = 0
}

// b2i lowers to a flag-set instruction, not a branch.
func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

// VirtualCounter is a deterministic tick source advanced explicitly by the
// dispatch path. It is single-shard state and requires no synchronization.
type VirtualCounter struct {
	ticks uint64
}

// Advance moves the counter forward by n ticks.
func (v *VirtualCounter) Advance(n uint64) {
	v.ticks += n
}

// Read returns the current counter value, suitable as a Counter.
func (v *VirtualCounter) Read() uint64 {
	return v.ticks
}
