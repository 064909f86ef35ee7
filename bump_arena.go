// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"math"
	"unsafe"

	"github.com/pbnjay/memory"
)

const (
	// minChunkSize is the smallest chunk the arena ever requests.
	minChunkSize = 64

	defaultInitialSize  = 1024 * 32 // 32KB
	defaultGrowthFactor = 2.0
)

// DefaultMaxChunkSize is the largest chunk an arena grows to unless configured
// otherwise: 1/64th of the system memory, clamped to [1MB, 256MB].
var DefaultMaxChunkSize = defaultMaxChunkSize(memory.TotalMemory())

func defaultMaxChunkSize(total uint64) uintptr {
	const lo, hi = 1 << 20, 256 << 20
	size := total / 64
	switch {
	case size < lo:
		return lo
	case size > hi:
		return hi
	}
	return uintptr(size)
}

type chunk struct {
	backing
	offset uintptr // bump offset from the chunk start
}

// bump reserves size bytes aligned to align from c. It reports the padding
// inserted in front of the allocation.
func (c *chunk) bump(size, align uintptr) (unsafe.Pointer, uintptr, bool) {
	base := uintptr(c.start)
	aligned := AlignUp(base+c.offset, align) - base
	if aligned > c.size || size > c.size-aligned {
		return nil, 0, false
	}
	pad := aligned - c.offset
	c.offset = aligned + size
	return c.at(aligned), pad, true
}

// BumpArena is a linear allocator over a list of chunks. Allocation bumps an
// offset inside the newest chunk (the head); memory is only released in bulk
// by Reset, Release or RestoreToPosition.
//
// BumpArena is not safe for concurrent use. Wrap it with NewConcurrentAllocator
// or use the asyncarena package when it has to be shared.
type BumpArena struct {
	head    *chunk
	used    []*chunk // filled chunks behind head, oldest first
	free    []*chunk // chunks retained by Reset, reused before growing
	retired uintptr  // bytes allocated in used
	peak    uintptr

	initialSize  uintptr
	growthFactor float64
	maxChunkSize uintptr
	maxTotalSize uintptr // 0 means no cap
	zero         bool
	trackStats   bool
	stats        counters
	freed        uint64 // bytes rolled back by RestoreToPosition and Reset
	rollbacks    uint64
}

// BumpArenaOption represents a configuration option for a bump arena.
type BumpArenaOption func(*BumpArena)

// WithInitialSize sets the size of the first chunk. A size of 0 defers the
// first chunk to the first allocation.
func WithInitialSize(size int) BumpArenaOption {
	return func(a *BumpArena) {
		a.initialSize = uintptr(max(size, 0))
	}
}

// WithGrowthFactor sets the multiplier applied to the head chunk capacity when
// a new chunk is needed. Values below 1 are ignored.
func WithGrowthFactor(f float64) BumpArenaOption {
	return func(a *BumpArena) {
		if f >= 1 && !math.IsInf(f, 0) {
			a.growthFactor = f
		}
	}
}

// WithMaxChunkSize caps the size of a single chunk. Requests that need a larger
// chunk fail with ErrOutOfMemory.
func WithMaxChunkSize(size int) BumpArenaOption {
	return func(a *BumpArena) {
		a.maxChunkSize = uintptr(max(size, minChunkSize))
	}
}

// WithMaxTotalSize caps the sum of all chunk capacities.
func WithMaxTotalSize(size int) BumpArenaOption {
	return func(a *BumpArena) {
		a.maxTotalSize = uintptr(max(size, 0))
	}
}

// WithZeroMemory controls whether allocations are zeroed. Enabled by default.
func WithZeroMemory(zero bool) BumpArenaOption {
	return func(a *BumpArena) {
		a.zero = zero
	}
}

// WithStatistics controls counter tracking. Enabled by default.
func WithStatistics(enabled bool) BumpArenaOption {
	return func(a *BumpArena) {
		a.trackStats = enabled
	}
}

// NewBumpArena creates a new bump arena with optional configuration.
// If no options are provided, the first chunk is 32KB, chunks double on growth
// and are capped at DefaultMaxChunkSize.
func NewBumpArena(opts ...BumpArenaOption) *BumpArena {
	a := &BumpArena{
		initialSize:  defaultInitialSize,
		growthFactor: defaultGrowthFactor,
		maxChunkSize: DefaultMaxChunkSize,
		zero:         true,
		trackStats:   true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.initialSize > 0 {
		size := min(max(a.initialSize, minChunkSize), a.maxChunkSize)
		if a.maxTotalSize == 0 || size <= a.maxTotalSize {
			a.head = &chunk{backing: newBacking(size)}
		}
	}
	return a
}

// Allocate satisfies the Allocator interface. The only failure cases are an
// invalid layout and a reached growth cap; neither changes the arena state.
func (a *BumpArena) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if err := ValidateLayout("allocate", size, align); err != nil {
		a.failed()
		return nil, err
	}
	if size == 0 {
		return dangling(align), nil
	}

	if a.head != nil {
		if ptr, pad, ok := a.head.bump(size, align); ok {
			a.allocated(ptr, size, pad)
			return ptr, nil
		}
	}

	c, err := a.grow(size, align)
	if err != nil {
		a.failed()
		return nil, err
	}
	ptr, pad, ok := c.bump(size, align)
	if !ok {
		// grow always returns a chunk that fits the request
		panic("arena: failed to allocate on newly created chunk")
	}
	a.allocated(ptr, size, pad)
	return ptr, nil
}

func (a *BumpArena) allocated(ptr unsafe.Pointer, size, pad uintptr) {
	if a.zero {
		clear(unsafe.Slice((*byte)(ptr), size))
	}
	if l := a.len(); l > a.peak {
		a.peak = l
	}
	if a.trackStats {
		a.stats.allocations++
		a.stats.bytes += uint64(size)
		a.stats.padding += uint64(pad)
	}
}

func (a *BumpArena) failed() {
	if a.trackStats {
		a.stats.failed++
	}
}

// grow makes a chunk that can hold size bytes aligned to align the new head.
// Retained chunks are reused first fit before new memory is requested.
func (a *BumpArena) grow(size, align uintptr) (*chunk, error) {
	need := size
	if align > bufferAlignment {
		need += align - 1
	}
	need = max(need, minChunkSize)
	if need > a.maxChunkSize {
		return nil, outOfMemory("allocate", size, align)
	}

	for i, c := range a.free {
		if c.size >= need {
			a.free = append(a.free[:i], a.free[i+1:]...)
			c.offset = 0
			a.pushHead(c)
			return c, nil
		}
	}

	next := a.initialSize
	if a.head != nil {
		next = uintptr(float64(a.head.size) * a.growthFactor)
	}
	next = min(max(next, need), a.maxChunkSize)
	if a.maxTotalSize > 0 {
		total := uintptr(a.Cap())
		if total+next > a.maxTotalSize {
			next = need
		}
		if total+next > a.maxTotalSize {
			return nil, outOfMemory("allocate", size, align)
		}
	}

	c := &chunk{backing: newBacking(next)}
	a.pushHead(c)
	return c, nil
}

func (a *BumpArena) pushHead(c *chunk) {
	if a.head != nil {
		a.used = append(a.used, a.head)
		a.retired += a.head.offset
	}
	a.head = c
}

// Position is a checkpoint inside the head chunk of a BumpArena. It stays
// valid only while the head chunk is unchanged: any growth after capture makes
// RestoreToPosition reject it. This makes a Position strictly weaker than a
// StackMarker.
type Position struct {
	offset uintptr
	chunk  unsafe.Pointer
}

// Offset returns the captured offset within the head chunk.
func (p Position) Offset() uintptr {
	return p.offset
}

// CurrentPosition captures the current bump offset of the head chunk.
func (a *BumpArena) CurrentPosition() Position {
	if a.head == nil {
		return Position{}
	}
	return Position{offset: a.head.offset, chunk: a.head.start}
}

// RestoreToPosition rolls the bump offset back to p. It fails with
// ErrInvalidArgument, leaving the arena unchanged, when p was captured against
// another head chunk or lies ahead of the current offset.
func (a *BumpArena) RestoreToPosition(p Position) error {
	var start unsafe.Pointer
	var offset uintptr
	if a.head != nil {
		start, offset = a.head.start, a.head.offset
	}
	if p.chunk != start {
		return NewError(KindInvalidArgument, "restore", "position was captured before the arena grew")
	}
	if p.offset > offset {
		return NewError(KindInvalidArgument, "restore", "position is ahead of the current offset")
	}
	if a.head != nil {
		a.freed += uint64(offset - p.offset)
		a.rollbacks++
		a.head.offset = p.offset
	}
	return nil
}

// Reset satisfies the Allocator interface. The bump offset rewinds to the base
// of the head chunk and every other chunk is retained for reuse.
func (a *BumpArena) Reset() {
	if a.head == nil {
		return
	}
	if l := a.len(); l > 0 {
		a.freed += uint64(l)
		a.rollbacks++
	}
	for _, c := range a.used {
		c.offset = 0
	}
	a.free = append(a.free, a.used...)
	a.used = a.used[:0]
	a.retired = 0
	a.head.offset = 0
}

// Release satisfies the Allocator interface. All chunks are dropped; the next
// allocation starts over with a fresh chunk.
func (a *BumpArena) Release() {
	a.Reset()
	a.head = nil
	a.used = nil
	a.free = nil
}

func (a *BumpArena) len() uintptr {
	if a.head == nil {
		return a.retired
	}
	return a.retired + a.head.offset
}

// Len returns the total number of bytes currently allocated in the arena.
func (a *BumpArena) Len() int {
	return int(a.len())
}

// Cap returns the total capacity of all chunks owned by the arena.
func (a *BumpArena) Cap() int {
	var total uintptr
	if a.head != nil {
		total += a.head.size
	}
	for _, c := range a.used {
		total += c.size
	}
	for _, c := range a.free {
		total += c.size
	}
	return int(total)
}

// Peak returns the peak number of bytes that have been allocated in the arena.
// This value is not reset when Reset is called, allowing tracking of maximum usage.
func (a *BumpArena) Peak() int {
	return int(a.peak)
}

// Chunks returns the number of chunks owned by the arena.
func (a *BumpArena) Chunks() int {
	n := len(a.used) + len(a.free)
	if a.head != nil {
		n++
	}
	return n
}

// Stats returns a snapshot of the arena counters. Allocation counters stay at
// zero when statistics are disabled.
func (a *BumpArena) Stats() Stats {
	return Stats{
		Allocations:       a.stats.allocations,
		Deallocations:     a.rollbacks,
		FailedAllocations: a.stats.failed,
		BytesAllocated:    a.stats.bytes,
		BytesDeallocated:  a.freed,
		PaddingBytes:      a.stats.padding,
		PeakBytes:         uint64(a.peak),
		CurrentBytes:      uint64(a.len()),
		Chunks:            a.Chunks(),
	}
}
