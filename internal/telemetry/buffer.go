package telemetry

import "sync"

// CircularBuffer keeps the most recent items up to a fixed capacity.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	size  int
}

// NewCircularBuffer returns a buffer holding at most capacity items.
// A non-positive capacity means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest one when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = item
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, 0, b.size)
	if b.size < len(b.items) {
		return append(out, b.items[:b.size]...)
	}
	out = append(out, b.items[b.next:]...)
	return append(out, b.items[:b.next]...)
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
