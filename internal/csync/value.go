package csync

import "sync"

// Value is a thread-safe holder for a single value. Writers replace the
// whole value; readers get a copy.
type Value[T any] struct {
	v  T
	mu sync.RWMutex
}

// NewValue creates a Value holding v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v}
}

// Load returns the current value.
func (x *Value[T]) Load() T {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.v
}

// Store replaces the current value.
func (x *Value[T]) Store(v T) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.v = v
}

// Update applies f to the current value under the write lock and stores
// the result.
func (x *Value[T]) Update(f func(T) T) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.v = f(x.v)
}
