package park

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nerval-Labs/reflex/pkg/receipt"
	"github.com/Nerval-Labs/reflex/pkg/ring"
	"github.com/Nerval-Labs/reflex/pkg/task"
)

func parked(t *testing.T, m *Manager, cause Cause) *task.Task {
	t.Helper()
	tk := task.New(1)
	require.NoError(t, tk.AddObservation(1))
	require.NoError(t, tk.Transition(task.Executing))
	require.NoError(t, tk.Transition(task.ParkPending))

	r := receipt.New(100, 0, "sigma", "obs", 9, 8, tk.ID.String(), 1)
	r.Status = receipt.StatusParked
	r.Cause = cause.String()
	require.NoError(t, m.Park(tk, r, cause, 100, 3))
	return tk
}

func TestParkAndDrain(t *testing.T) {
	m, err := NewManager(16)
	require.NoError(t, err)

	parked(t, m, CauseTickBudgetExceeded)
	parked(t, m, CauseHeatBelowThreshold)
	assert.Equal(t, 2, m.Count())

	ds := m.Drain()
	require.Len(t, ds, 2)
	assert.Equal(t, CauseTickBudgetExceeded, ds[0].Cause)
	assert.Equal(t, CauseHeatBelowThreshold, ds[1].Cause)
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.Drain())
}

func TestParkFullIsNonBlocking(t *testing.T) {
	m, err := NewManager(2) // holds one delta
	require.NoError(t, err)

	parked(t, m, CauseTickBudgetExceeded)

	tk := task.New(1)
	err = m.Park(tk, receipt.Receipt{}, CauseRunLengthExceeded, 100, 0)
	assert.ErrorIs(t, err, ring.ErrFull)
	assert.Equal(t, 1, m.Count())
}

func TestCauseStrings(t *testing.T) {
	assert.Equal(t, "tick_budget_exceeded", CauseTickBudgetExceeded.String())
	assert.Equal(t, "l1_miss_predicted", CauseL1MissPredicted.String())
	assert.Equal(t, "run_length_exceeded", CauseRunLengthExceeded.String())
	assert.Equal(t, "heat_below_threshold", CauseHeatBelowThreshold.String())
	assert.Equal(t, "unknown", Cause(0).String())
}

type recordingExecutor struct {
	mu    sync.Mutex
	tasks []*task.Task
}

func (r *recordingExecutor) Reexecute(_ context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestReprocessorDrainsToWarmTier(t *testing.T) {
	m, err := NewManager(16)
	require.NoError(t, err)

	parked(t, m, CauseTickBudgetExceeded)
	parked(t, m, CauseRunLengthExceeded)

	exec := &recordingExecutor{}
	rp := NewReprocessor(m, exec, 1000, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rp.Run(ctx) }()

	require.Eventually(t, func() bool { return exec.count() == 2 },
		time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// Re-admitted tasks return to Ready; the reflex tier is untouched.
	for _, tk := range exec.tasks {
		assert.Equal(t, task.Ready, tk.State())
	}
}
