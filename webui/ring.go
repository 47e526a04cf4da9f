package webui

import "sync"

// Ring is a thread-safe, fixed-size buffer that overwrites the oldest entry
// when full. Reads return entries oldest first.
type Ring[T any] struct {
	mu   sync.RWMutex
	data []T
	size int
	head int // next write
	tail int // oldest
}

// NewRing returns a ring holding at most capacity entries. It panics if
// capacity is less than 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("webui: ring capacity must be at least 1")
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends item, overwriting the oldest entry if the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.size < len(r.data) {
		r.size++
	} else {
		r.tail = (r.tail + 1) % len(r.data)
	}
}

// All returns a copy of every entry, oldest first.
func (r *Ring[T]) All() []T {
	return r.Last(r.Len())
}

// Last returns up to n of the newest entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.data[(r.tail+start+i)%len(r.data)]
	}
	return out
}

// Peek returns the newest entry.
func (r *Ring[T]) Peek() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.data[(r.head-1+len(r.data))%len(r.data)], true
}

// Len returns the number of entries held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.data) }
