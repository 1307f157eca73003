// Package ring provides a lock-free single-producer/single-consumer ring
// buffer used to hand parked work and completed batches between tiers.
//
// Producer and consumer counters live on separate cache lines so the two
// sides never contend on the same line. Capacity must be a power of two;
// one slot is sacrificed to disambiguate full from empty, so a buffer of
// capacity C holds at most C-1 elements.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrFull is returned by Enqueue when the buffer has no free slot. The call
// does not block and does not mutate state.
var ErrFull = errors.New("ring: buffer full")

// Buffer is a fixed-capacity SPSC queue. Exactly one goroutine may enqueue
// and exactly one may dequeue; no additional synchronization is permitted on
// this path. Clear is defined only for exclusive access.
type Buffer[T any] struct {
	_    [64]byte // keep head on its own cache line
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
	_    [56]byte
	mask uint64
	buf  []T
}

// New allocates a buffer. capacity must be a power of two greater than one;
// anything else is a construction-time error, never silently defaulted.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 1 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring: capacity %d is not a power of two > 1", capacity)
	}
	return &Buffer[T]{
		mask: uint64(capacity - 1),
		buf:  make([]T, capacity),
	}, nil
}

// Enqueue publishes v to the consumer. Go's atomic stores have release
// semantics, so the consumer can never observe the head advance before the
// slot write.
func (b *Buffer[T]) Enqueue(v T) error {
	head := b.head.Load()
	next := (head + 1) & b.mask
	if next == b.tail.Load()&b.mask {
		return ErrFull
	}
	b.buf[head&b.mask] = v
	b.head.Store(head + 1)
	return nil
}

// Dequeue removes the oldest element. The second return is false when the
// buffer is empty. The head load has acquire semantics, pairing with the
// producer's release store.
func (b *Buffer[T]) Dequeue() (T, bool) {
	var zero T
	tail := b.tail.Load()
	if tail&b.mask == b.head.Load()&b.mask {
		return zero, false
	}
	v := b.buf[tail&b.mask]
	b.buf[tail&b.mask] = zero // release payload reference
	b.tail.Store(tail + 1)
	return v, true
}

// Len returns the number of queued elements. Advisory under concurrency.
func (b *Buffer[T]) Len() int {
	return int(b.head.Load() - b.tail.Load())
}

// Cap returns the usable capacity (one slot below the allocated size).
func (b *Buffer[T]) Cap() int {
	return len(b.buf) - 1
}

// Clear resets the buffer. It must never be called concurrently with
// Enqueue or Dequeue.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.head.Store(0)
	b.tail.Store(0)
}
