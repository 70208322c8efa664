package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe generic circular buffer.
// Once full, each Add overwrites the oldest entry.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	size     int
	head     int
	logger   *zap.Logger
}

// New creates a RingBuffer holding at most capacity items
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Add inserts an item, evicting the oldest one when the buffer is full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.capacity {
		rb.logger.Debug("ring buffer full, evicting oldest entry",
			zap.Int("capacity", rb.capacity))
	}

	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// Snapshot returns a copy of the buffered items, oldest first.
// The buffer is left untouched.
func (rb *RingBuffer[T]) Snapshot() []T {
	return rb.Newest(-1)
}

// Newest returns a copy of the n most recent items, oldest first.
// A negative n or one larger than Size returns everything.
func (rb *RingBuffer[T]) Newest(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n < 0 || n > rb.size {
		n = rb.size
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	start := (rb.head - n + rb.capacity) % rb.capacity
	for i := range n {
		out[i] = rb.data[(start+i)%rb.capacity]
	}
	return out
}

// Last returns the most recently added item
func (rb *RingBuffer[T]) Last() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.data[(rb.head-1+rb.capacity)%rb.capacity], true
}

// Size returns the current number of entries in the buffer
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum capacity of the buffer
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}
