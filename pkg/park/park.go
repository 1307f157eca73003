// Package park implements the demotion path from the reflex tier to the
// warm tier. Parking is not an error: it is the designed safety valve for
// work that would blow the tick budget, and it is always observable through
// a receipt.
package park

import (
	"github.com/Nerval-Labs/reflex/pkg/receipt"
	"github.com/Nerval-Labs/reflex/pkg/ring"
	"github.com/Nerval-Labs/reflex/pkg/task"
)

// Cause explains why an execution was demoted.
type Cause uint8

const (
	CauseTickBudgetExceeded Cause = iota + 1
	CauseL1MissPredicted
	CauseRunLengthExceeded
	CauseHeatBelowThreshold
)

func (c Cause) String() string {
	switch c {
	case CauseTickBudgetExceeded:
		return "tick_budget_exceeded"
	case CauseL1MissPredicted:
		return "l1_miss_predicted"
	case CauseRunLengthExceeded:
		return "run_length_exceeded"
	case CauseHeatBelowThreshold:
		return "heat_below_threshold"
	}
	return "unknown"
}

// Delta is a parked execution. Ownership moves to the ring buffer at Park
// and to the warm tier at Drain; it is never mutated after creation.
type Delta struct {
	Task    *task.Task
	Receipt receipt.Receipt
	Cause   Cause
	Epoch   uint64
	Tick    uint64
}

// Manager captures over-budget executions for warm-tier reprocessing. The
// reflex tier is the single producer; the warm tier is the single consumer.
type Manager struct {
	queue *ring.Buffer[Delta]
}

// NewManager creates a manager with the given queue capacity (power of two).
func NewManager(capacity int) (*Manager, error) {
	q, err := ring.New[Delta](capacity)
	if err != nil {
		return nil, err
	}
	return &Manager{queue: q}, nil
}

// Park hands an execution to the warm tier. Non-blocking: when the queue is
// full the caller gets ring.ErrFull and decides policy; the reflex tier
// never waits here.
func (m *Manager) Park(t *task.Task, r receipt.Receipt, cause Cause, epoch, tick uint64) error {
	return m.queue.Enqueue(Delta{
		Task:    t,
		Receipt: r,
		Cause:   cause,
		Epoch:   epoch,
		Tick:    tick,
	})
}

// Drain removes and returns all queued deltas. Single-consumer only.
func (m *Manager) Drain() []Delta {
	var out []Delta
	for {
		d, ok := m.queue.Dequeue()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

// Count returns the number of parked deltas awaiting drain.
func (m *Manager) Count() int {
	return m.queue.Len()
}
