// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"sync/atomic"
)

// Stats is a snapshot of allocator counters.
type Stats struct {
	Allocations       uint64
	Deallocations     uint64
	Reallocations     uint64
	FailedAllocations uint64
	BytesAllocated    uint64
	BytesDeallocated  uint64
	PaddingBytes      uint64
	PeakBytes         uint64
	CurrentBytes      uint64
	Chunks            int
}

// counters is the single-threaded counter set of BumpArena.
type counters struct {
	allocations uint64
	failed      uint64
	bytes       uint64
	padding     uint64
}

// atomicCounters is the counter set of StackAllocator. Relaxed semantics are
// enough: the values are advisory and never used for allocation decisions.
type atomicCounters struct {
	allocations   atomic.Uint64
	deallocations atomic.Uint64
	reallocations atomic.Uint64
	failed        atomic.Uint64
	bytes         atomic.Uint64
	bytesFreed    atomic.Uint64
}
