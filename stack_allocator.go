// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

const (
	defaultMaxRetries = 1024
	// spinSteps is the number of immediate CAS retries before yielding.
	spinSteps = 4
)

// StackState describes how full a StackAllocator is.
type StackState uint8

const (
	StackEmpty StackState = iota
	StackPartial
	StackFull
)

func (s StackState) String() string {
	switch s {
	case StackEmpty:
		return "empty"
	case StackPartial:
		return "partial"
	case StackFull:
		return "full"
	default:
		return "unknown"
	}
}

// StackMarker records the top of a StackAllocator. It is only meaningful for
// the allocator that produced it and only while the top has not been rolled
// back below it.
type StackMarker struct {
	top uintptr
}

// Offset returns the recorded top as an offset from the buffer start.
func (m StackMarker) Offset() uintptr {
	return m.top
}

// StackAllocator is a LIFO allocator over a fixed buffer. The top of the stack
// advances with a CAS so that it may be used from multiple goroutines; the
// successful CAS operations define a total order of allocations.
type StackAllocator struct {
	buf  backing
	top  atomic.Uintptr // offset from buf.start
	peak atomic.Uintptr

	maxRetries     int
	fill           bool
	fillPattern    byte
	dealloc        bool
	deallocPattern byte
	stats          *atomicCounters
}

// StackOption represents a configuration option for a stack allocator.
type StackOption func(*StackAllocator)

// WithStackStatistics enables allocation counters.
func WithStackStatistics() StackOption {
	return func(s *StackAllocator) {
		s.stats = &atomicCounters{}
	}
}

// WithFillPattern fills every allocation with b. Useful to spot reads of
// uninitialized memory.
func WithFillPattern(b byte) StackOption {
	return func(s *StackAllocator) {
		s.fill, s.fillPattern = true, b
	}
}

// WithDeallocPattern overwrites popped allocations with b.
func WithDeallocPattern(b byte) StackOption {
	return func(s *StackAllocator) {
		s.dealloc, s.deallocPattern = true, b
	}
}

// WithMaxRetries bounds the number of CAS retries of a contended allocation.
func WithMaxRetries(n int) StackOption {
	return func(s *StackAllocator) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStackAllocator creates a stack allocator over a buffer of capacity bytes.
// The buffer start is aligned to 64 bytes.
func NewStackAllocator(capacity int, opts ...StackOption) *StackAllocator {
	s := &StackAllocator{
		buf:        newBacking(uintptr(max(capacity, 0))),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate satisfies the Allocator interface.
func (s *StackAllocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if err := ValidateLayout("allocate", size, align); err != nil {
		s.failed()
		return nil, err
	}
	if size == 0 {
		return dangling(align), nil
	}

	base := uintptr(s.buf.start)
	for attempt := 0; ; attempt++ {
		cur := s.top.Load()
		aligned := AlignUp(base+cur, align) - base
		if aligned > s.buf.size || size > s.buf.size-aligned {
			s.failed()
			return nil, outOfMemory("allocate", size, align)
		}
		next := aligned + size
		if s.top.CompareAndSwap(cur, next) {
			ptr := s.buf.at(aligned)
			if s.fill {
				fillBytes(unsafe.Slice((*byte)(ptr), size), s.fillPattern)
			}
			s.observePeak(next)
			if s.stats != nil {
				s.stats.allocations.Add(1)
				s.stats.bytes.Add(uint64(size))
			}
			return ptr, nil
		}
		if attempt >= s.maxRetries {
			s.failed()
			return nil, &Error{Kind: KindOutOfMemory, Op: "allocate", Size: size, Align: align, Msg: "retry limit reached under contention"}
		}
		backoff(attempt)
	}
}

// backoff yields the processor once the immediate retries are used up.
func backoff(attempt int) {
	if attempt >= spinSteps {
		runtime.Gosched()
	}
}

func fillBytes(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func (s *StackAllocator) failed() {
	if s.stats != nil {
		s.stats.failed.Add(1)
	}
}

func (s *StackAllocator) observePeak(top uintptr) {
	for {
		cur := s.peak.Load()
		if top <= cur || s.peak.CompareAndSwap(cur, top) {
			return
		}
	}
}

// TryPop releases the allocation at ptr if it is the most recent one. It
// reports whether the top moved; any other pointer leaves the allocator
// untouched.
func (s *StackAllocator) TryPop(ptr unsafe.Pointer, size, align uintptr) bool {
	if size == 0 || ptr == nil || !IsPowerOfTwo(align) {
		return false
	}
	cur := s.top.Load()
	if cur < size {
		return false
	}
	expected := cur - size
	base := uintptr(s.buf.start)
	if uintptr(ptr) != AlignUp(base+expected, align) {
		return false
	}
	// The pattern goes in before the CAS: once the top moves, the region may
	// belong to another allocation. A lost CAS restores the old bytes.
	var saved []byte
	if s.dealloc {
		region := unsafe.Slice((*byte)(ptr), size)
		saved = append([]byte(nil), region...)
		fillBytes(region, s.deallocPattern)
	}
	if !s.top.CompareAndSwap(cur, expected) {
		if saved != nil {
			copy(unsafe.Slice((*byte)(ptr), size), saved)
		}
		return false
	}
	if s.stats != nil {
		s.stats.deallocations.Add(1)
		s.stats.bytesFreed.Add(uint64(size))
	}
	return true
}

// Deallocate is the best-effort form of TryPop: it only has an effect when ptr
// is the most recent allocation.
func (s *StackAllocator) Deallocate(ptr unsafe.Pointer, size, align uintptr) {
	s.TryPop(ptr, size, align)
}

// Reallocate resizes the allocation at ptr. It grows or shrinks in place when
// ptr is the most recent allocation, newAlign does not exceed oldAlign and the
// new size fits; otherwise it allocates, copies and releases ptr best effort.
func (s *StackAllocator) Reallocate(ptr unsafe.Pointer, oldSize, oldAlign, newSize, newAlign uintptr) (unsafe.Pointer, error) {
	if err := ValidateLayout("reallocate", newSize, newAlign); err != nil {
		s.failed()
		return nil, err
	}
	if ptr == nil || oldSize == 0 {
		return s.Allocate(newSize, newAlign)
	}

	if newAlign <= oldAlign && s.buf.contains(ptr) {
		off := s.buf.offsetOf(ptr)
		cur := s.top.Load()
		if off+oldSize == cur && newSize <= s.buf.size-off && s.top.CompareAndSwap(cur, off+newSize) {
			s.observePeak(off + newSize)
			if s.stats != nil {
				s.stats.reallocations.Add(1)
			}
			return ptr, nil
		}
	}

	np, err := s.Allocate(newSize, newAlign)
	if err != nil {
		return nil, err
	}
	copy(unsafe.Slice((*byte)(np), newSize), unsafe.Slice((*byte)(ptr), min(oldSize, newSize)))
	s.TryPop(ptr, oldSize, oldAlign)
	if s.stats != nil {
		s.stats.reallocations.Add(1)
	}
	return np, nil
}

// Mark captures the current top.
func (s *StackAllocator) Mark() StackMarker {
	return StackMarker{top: s.top.Load()}
}

// RestoreToMarker rewinds the top to m. It fails with ErrInvalidArgument when
// m lies outside the buffer or ahead of the current top.
func (s *StackAllocator) RestoreToMarker(m StackMarker) error {
	if m.top > s.buf.size {
		return NewError(KindInvalidArgument, "restore", "marker is out of bounds")
	}
	for {
		cur := s.top.Load()
		if m.top > cur {
			return NewError(KindInvalidArgument, "restore", "marker is ahead of the current top")
		}
		if s.top.CompareAndSwap(cur, m.top) {
			if s.stats != nil && cur > m.top {
				s.stats.deallocations.Add(1)
				s.stats.bytesFreed.Add(uint64(cur - m.top))
			}
			return nil
		}
	}
}

// Reset satisfies the Allocator interface.
func (s *StackAllocator) Reset() {
	s.top.Store(0)
}

// Release satisfies the Allocator interface. The buffer is dropped and every
// later allocation fails with ErrOutOfMemory. Release must not race with
// other calls.
func (s *StackAllocator) Release() {
	s.buf = backing{}
	s.top.Store(0)
}

// Used returns the number of bytes between the buffer start and the top.
func (s *StackAllocator) Used() uintptr {
	return s.top.Load()
}

// Remaining returns the number of bytes above the top.
func (s *StackAllocator) Remaining() uintptr {
	return s.buf.size - s.top.Load()
}

// State reports whether the stack is empty, partially used or full.
func (s *StackAllocator) State() StackState {
	switch top := s.top.Load(); {
	case top == 0:
		return StackEmpty
	case top >= s.buf.size:
		return StackFull
	default:
		return StackPartial
	}
}

// Len returns the number of bytes currently allocated, padding included.
func (s *StackAllocator) Len() int {
	return int(s.Used())
}

// Cap returns the size of the buffer.
func (s *StackAllocator) Cap() int {
	return int(s.buf.size)
}

// Peak returns the high-water mark of the top.
func (s *StackAllocator) Peak() int {
	return int(s.peak.Load())
}

// Stats returns a snapshot of the counters. Only the byte gauges are populated
// unless WithStackStatistics was given.
func (s *StackAllocator) Stats() Stats {
	st := Stats{
		CurrentBytes: uint64(s.top.Load()),
		PeakBytes:    uint64(s.peak.Load()),
		Chunks:       1,
	}
	if s.stats != nil {
		st.Allocations = s.stats.allocations.Load()
		st.Deallocations = s.stats.deallocations.Load()
		st.Reallocations = s.stats.reallocations.Load()
		st.FailedAllocations = s.stats.failed.Load()
		st.BytesAllocated = s.stats.bytes.Load()
		st.BytesDeallocated = s.stats.bytesFreed.Load()
	}
	return st
}

// StackFrame restores the allocator to the marker it captured when released.
// Allocations made inside the frame are freed together.
type StackFrame struct {
	s        *StackAllocator
	marker   StackMarker
	released bool
}

// Frame opens a frame at the current top. Callers defer Release.
func (s *StackAllocator) Frame() *StackFrame {
	return &StackFrame{s: s, marker: s.Mark()}
}

// Marker returns the marker captured when the frame was opened.
func (f *StackFrame) Marker() StackMarker {
	return f.marker
}

// Release rewinds the allocator to the frame marker. Calling it more than once
// has no effect.
func (f *StackFrame) Release() {
	if f.released {
		return
	}
	f.released = true
	_ = f.s.RestoreToMarker(f.marker)
}

// WithFrame runs fn inside a frame and releases it when fn returns.
func (s *StackAllocator) WithFrame(fn func() error) error {
	f := s.Frame()
	defer f.Release()
	return fn()
}
