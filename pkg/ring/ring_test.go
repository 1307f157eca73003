package ring

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, 1, 3, 6, 100, -8} {
		_, err := New[int](c)
		assert.Error(t, err, "capacity %d", c)
	}
	_, err := New[int](8)
	assert.NoError(t, err)
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	b, err := New[int](8)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Enqueue(i))
	}
	for i := 0; i < 5; i++ {
		v, ok := b.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := b.Dequeue()
	assert.False(t, ok)
}

func TestFullDoesNotMutate(t *testing.T) {
	b, err := New[int](4)
	require.NoError(t, err)

	// Capacity 4 holds at most 3 elements.
	require.NoError(t, b.Enqueue(1))
	require.NoError(t, b.Enqueue(2))
	require.NoError(t, b.Enqueue(3))
	assert.ErrorIs(t, b.Enqueue(4), ErrFull)
	assert.Equal(t, 3, b.Len())

	v, ok := b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// One slot freed; enqueue succeeds again.
	assert.NoError(t, b.Enqueue(4))
}

func TestDequeueEmpty(t *testing.T) {
	b, err := New[string](8)
	require.NoError(t, err)
	v, ok := b.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestClear(t *testing.T) {
	b, err := New[int](8)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, b.Enqueue(i))
	}
	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Dequeue()
	assert.False(t, ok)
}

func TestWrapAround(t *testing.T) {
	b, err := New[int](4)
	require.NoError(t, err)

	// Drive the counters through several wraps.
	for round := 0; round < 20; round++ {
		require.NoError(t, b.Enqueue(round))
		v, ok := b.Dequeue()
		require.True(t, ok)
		assert.Equal(t, round, v)
	}
}

func TestSPSCConcurrentHandoff(t *testing.T) {
	b, err := New[uint64](1024)
	require.NoError(t, err)

	const n = 100_000
	done := make(chan []uint64)

	go func() {
		out := make([]uint64, 0, n)
		for len(out) < n {
			if v, ok := b.Dequeue(); ok {
				out = append(out, v)
			}
		}
		done <- out
	}()

	for i := uint64(0); i < n; {
		if b.Enqueue(i) == nil {
			i++
		}
	}

	out := <-done
	require.Len(t, out, n)
	for i, v := range out {
		require.Equal(t, uint64(i), v, "out of order at %d", i)
	}
}

// Property: for any interleaving of enqueues on a capacity-C buffer, at most
// C-1 elements are held and Len never exceeds that bound.
func TestCapacityProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("occupancy bounded by C-1", prop.ForAll(
		func(pushes []int8) bool {
			b, err := New[int8](16)
			if err != nil {
				return false
			}
			for _, p := range pushes {
				_ = b.Enqueue(p)
				if b.Len() > b.Cap() {
					return false
				}
			}
			return b.Len() <= 15
		},
		gen.SliceOf(gen.Int8()),
	))

	properties.TestingRun(t)
}
