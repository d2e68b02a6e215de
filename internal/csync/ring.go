package csync

import "sync"

// Ring is a thread-safe bounded buffer that keeps the most recent elements.
// Appending to a full ring drops the oldest element.
type Ring[T any] struct {
	data  []T
	start int
	size  int
	mu    sync.RWMutex
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		data: make([]T, capacity),
	}
}

// Append adds elements in order, evicting the oldest when full.
func (r *Ring[T]) Append(elements ...T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range elements {
		idx := (r.start + r.size) % len(r.data)
		r.data[idx] = e
		if r.size < len(r.data) {
			r.size++
		} else {
			r.start = (r.start + 1) % len(r.data)
		}
	}
}

// Len returns the number of elements held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the maximum number of elements held.
func (r *Ring[T]) Cap() int {
	return len(r.data)
}

// Last returns the newest element and whether the ring is not empty.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.data[(r.start+r.size-1)%len(r.data)], true
}

// ToSlice returns a copy of the elements, oldest first.
func (r *Ring[T]) ToSlice() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.data[(r.start+i)%len(r.data)]
	}
	return result
}

// Clear removes all elements.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.start = 0
	r.size = 0
}
