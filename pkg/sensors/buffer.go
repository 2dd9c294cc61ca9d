package sensors

import "sync"

// Buffer is a bounded thread-safe ring buffer with a drop-oldest overflow
// policy, so a stalled consumer bounds memory during multi-hour sessions.
type Buffer[T any] struct {
	mu       sync.Mutex
	data     []T
	head     int
	size     int
	capacity int
	dropped  int64
}

// NewBuffer creates a buffer holding at most capacity items.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest when full. It reports whether an
// item was dropped.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.size) % b.capacity
	b.data[tail] = item

	if b.size < b.capacity {
		b.size++
		return false
	}

	b.head = (b.head + 1) % b.capacity
	b.dropped++
	return true
}

// Drain removes and returns all buffered items in insertion order.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.data[(b.head+i)%b.capacity])
	}
	b.head = 0
	b.size = 0
	return out
}

// Snapshot returns a copy of the buffered items without draining them.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.data[(b.head+i)%b.capacity])
	}
	return out
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the number of items evicted by overflow.
func (b *Buffer[T]) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
