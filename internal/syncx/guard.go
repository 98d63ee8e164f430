// Package syncx provides extended synchronization primitives
package syncx

import (
	"sync"
	"sync/atomic"
)

// RWGuard wraps RWMutex with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// View executes fn while holding the read lock.
func (g *RWGuard[T]) View(fn func(T)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.value)
}

// Write executes fn while holding write lock, fn receives pointer for mutation.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Flag is a single-slot busy marker. A caller that fails TryAcquire must
// return immediately; it never waits for the holder.
type Flag struct {
	busy atomic.Bool
}

// TryAcquire marks the flag busy and reports whether the caller now owns it.
func (f *Flag) TryAcquire() bool {
	return f.busy.CompareAndSwap(false, true)
}

// Release clears the flag. Releasing an idle flag is a no-op.
func (f *Flag) Release() {
	f.busy.Store(false)
}

// Busy reports whether the flag is currently held.
func (f *Flag) Busy() bool {
	return f.busy.Load()
}
