// SPDX-License-Identifier: Apache-2.0

package pool

// owner is the pool side of a Handle.
type owner[T Poolable] interface {
	checkin(v T)
	detach(v T)
}

// Handle owns one checked-out value. Release gives it back to the pool,
// Detach takes it out of the pool's accounting for good. A Handle must not be
// used from several goroutines at once.
type Handle[T Poolable] struct {
	value T
	pool  owner[T]
	done  bool
}

func newHandle[T Poolable](p owner[T], v T) *Handle[T] {
	return &Handle[T]{value: v, pool: p}
}

// Value returns the checked-out value, or the zero value once the handle is
// released or detached.
func (h *Handle[T]) Value() T {
	return h.value
}

// Release returns the value to its pool. Calling it more than once has no
// effect.
func (h *Handle[T]) Release() {
	if h.done {
		return
	}
	h.done = true
	v := h.value
	var zero T
	h.value = zero
	h.pool.checkin(v)
}

// Detach hands the value over to the caller. The pool forgets it and frees
// its capacity slot. Detach after Release returns the zero value.
func (h *Handle[T]) Detach() T {
	v := h.value
	if h.done {
		return v
	}
	h.done = true
	var zero T
	h.value = zero
	h.pool.detach(v)
	return v
}
