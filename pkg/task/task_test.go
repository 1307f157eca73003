package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskStartsCreated(t *testing.T) {
	tk := New(1)
	assert.Equal(t, Created, tk.State())
	assert.NotEqual(t, "", tk.ID.String())
}

func TestFirstObservationMakesReady(t *testing.T) {
	tk := New(1)
	require.NoError(t, tk.AddObservation(42))
	assert.Equal(t, Ready, tk.State())
	assert.Equal(t, []uint64{42}, tk.Observations())
}

func TestHappyPathTransitions(t *testing.T) {
	tk := New(1)
	require.NoError(t, tk.AddObservation(1))
	require.NoError(t, tk.Transition(Executing))
	require.NoError(t, tk.Transition(Completed))
	assert.Equal(t, Completed, tk.State())
}

func TestParkAndReadmit(t *testing.T) {
	tk := New(1)
	require.NoError(t, tk.AddObservation(1))
	require.NoError(t, tk.Transition(Executing))
	require.NoError(t, tk.Transition(ParkPending))
	require.NoError(t, tk.Transition(Ready)) // warm tier re-admission
	assert.Equal(t, Ready, tk.State())
}

func TestIllegalTransitions(t *testing.T) {
	tk := New(1)
	assert.Error(t, tk.Transition(Executing)) // Created -> Executing skips Ready
	assert.Error(t, tk.Transition(Completed))

	require.NoError(t, tk.AddObservation(1))
	require.NoError(t, tk.Transition(Executing))
	require.NoError(t, tk.Transition(Completed))

	err := tk.Transition(Ready)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestFailedIsTerminal(t *testing.T) {
	tk := New(1)
	require.NoError(t, tk.Transition(Failed))
	assert.ErrorIs(t, tk.Transition(Ready), ErrTerminal)
}

func TestObservationAfterDispatchRejected(t *testing.T) {
	tk := New(1)
	require.NoError(t, tk.AddObservation(1))
	require.NoError(t, tk.Transition(Executing))
	assert.Error(t, tk.AddObservation(2))
}

func TestObservationBufferBound(t *testing.T) {
	tk := New(1)
	for i := 0; i < MaxObservations; i++ {
		require.NoError(t, tk.AddObservation(uint64(i)))
	}
	assert.Error(t, tk.AddObservation(999))
}
