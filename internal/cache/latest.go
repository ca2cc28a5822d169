// Package cache provides single-slot "latest value" caches.
//
// A Latest holds at most one value, overwritten in place. It is the only
// shared state between the acquisition/analysis side of a stream and the
// broadcast side, so reads and writes must never block each other: the slot
// is an atomically swapped pointer, not a lock held across I/O.
package cache

import "sync/atomic"

// Latest is a single-value cache with overwrite semantics.
// The zero value is empty and ready to use.
type Latest[T any] struct {
	slot atomic.Pointer[T]
}

// Set unconditionally replaces the cached value.
func (l *Latest[T]) Set(v T) {
	l.slot.Store(&v)
}

// Get returns the current value. ok is false until the first Set,
// which callers use to render "initializing" states.
func (l *Latest[T]) Get() (v T, ok bool) {
	p := l.slot.Load()
	if p == nil {
		return v, false
	}
	return *p, true
}
