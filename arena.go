// SPDX-License-Identifier: Apache-2.0

// Package arena provides scope-bounded allocators for hot paths in workflow
// execution: a chunked bump arena with position markers and a thread-safe
// stack allocator with LIFO deallocation and frames.
//
// Memory handed out by these allocators is not scanned by the garbage
// collector. Values stored in it must not contain Go pointers to heap
// objects that are not otherwise kept alive.
package arena

import (
	"unsafe"
)

// Allocator is an interface that describes a memory allocator with bulk release.
type Allocator interface {
	// Allocate reserves size bytes aligned to align and returns a pointer to them.
	// align must be a power of two. A zero size returns an aligned pointer that
	// must not be dereferenced and does not consume space.
	Allocate(size, align uintptr) (unsafe.Pointer, error)

	// Reset rewinds the allocator without releasing the underlying memory.
	// After invoking this method any pointer previously returned by Allocate becomes immediately invalid.
	Reset()

	// Release releases the allocator's underlying memory back to the runtime.
	// Allocations after Release either start over with fresh memory or fail
	// with ErrOutOfMemory; they never panic.
	Release()

	// Len returns the total number of bytes currently allocated, padding included.
	Len() int

	// Cap returns the total capacity (maximum bytes) currently backing the allocator.
	Cap() int

	// Peak returns the high-water mark of Len.
	// This value is not reset when Reset is called, allowing tracking of maximum usage.
	Peak() int
}

// New allocates a zeroed T from a. If a is nil or the allocation fails, it
// falls back to Go's built-in new function.
func New[T any](a Allocator) *T {
	if a != nil {
		var x T
		if ptr, err := a.Allocate(unsafe.Sizeof(x), unsafe.Alignof(x)); err == nil {
			p := (*T)(ptr)
			*p = x
			return p
		}
	}
	return new(T)
}

// AllocateValue copies v into memory obtained from a.
func AllocateValue[T any](a Allocator, v T) (*T, error) {
	ptr, err := a.Allocate(unsafe.Sizeof(v), unsafe.Alignof(v))
	if err != nil {
		return nil, err
	}
	p := (*T)(ptr)
	*p = v
	return p, nil
}
