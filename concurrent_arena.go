// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"sync"
	"unsafe"
)

// statsReporter is implemented by allocators that keep Stats.
type statsReporter interface {
	Stats() Stats
}

// ConcurrentAllocator serializes every call to a wrapped Allocator so that it
// can be shared between goroutines.
type ConcurrentAllocator struct {
	mtx sync.Mutex
	a   Allocator
}

// NewConcurrentAllocator wraps a. A nil a fails every allocation with
// ErrOutOfMemory.
func NewConcurrentAllocator(a Allocator) *ConcurrentAllocator {
	return &ConcurrentAllocator{a: a}
}

// Allocate satisfies the Allocator interface.
func (c *ConcurrentAllocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a == nil {
		return nil, outOfMemory("allocate", size, align)
	}
	return c.a.Allocate(size, align)
}

// Locked runs fn with the lock held, so that a group of allocations, a
// position restore or an allocate-or-reset decision is not interleaved with
// other goroutines. fn must not call back into c.
func (c *ConcurrentAllocator) Locked(fn func(a Allocator) error) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a == nil {
		return outOfMemory("locked", 0, 0)
	}
	return fn(c.a)
}

// Stats returns the wrapped allocator's statistics. Allocators without their
// own counters report only current and peak bytes.
func (c *ConcurrentAllocator) Stats() Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	switch a := c.a.(type) {
	case nil:
		return Stats{}
	case statsReporter:
		return a.Stats()
	default:
		return Stats{
			CurrentBytes: uint64(a.Len()),
			PeakBytes:    uint64(a.Peak()),
		}
	}
}

// Reset satisfies the Allocator interface.
func (c *ConcurrentAllocator) Reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a != nil {
		c.a.Reset()
	}
}

// Release satisfies the Allocator interface.
func (c *ConcurrentAllocator) Release() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a != nil {
		c.a.Release()
	}
}

// Len satisfies the Allocator interface.
func (c *ConcurrentAllocator) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a == nil {
		return 0
	}
	return c.a.Len()
}

// Cap satisfies the Allocator interface.
func (c *ConcurrentAllocator) Cap() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a == nil {
		return 0
	}
	return c.a.Cap()
}

// Peak satisfies the Allocator interface.
func (c *ConcurrentAllocator) Peak() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.a == nil {
		return 0
	}
	return c.a.Peak()
}
