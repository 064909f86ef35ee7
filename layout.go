// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"os"
	"unsafe"
)

const (
	// MaxAlignment is the largest alignment any allocator accepts.
	MaxAlignment = 4096

	// DefaultAlignment is used by the typed helpers for byte oriented data.
	DefaultAlignment = unsafe.Alignof(uintptr(0))

	// bufferAlignment is the alignment of every backing buffer start address.
	bufferAlignment = 64
)

// zeroSized backs the pointers returned for zero-sized allocations. It is never written.
var zeroSized = make([]byte, 2*MaxAlignment)

// IsPowerOfTwo reports whether x is a power of two. Zero is not.
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && x&(x-1) == 0
}

// AlignUp rounds x up to the next multiple of align, which must be a power of two.
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// IsAligned reports whether p is a multiple of align.
func IsAligned(p unsafe.Pointer, align uintptr) bool {
	return uintptr(p)&(align-1) == 0
}

// PageSize returns the operating system page size.
func PageSize() int {
	return os.Getpagesize()
}

// RoundToPage rounds n up to a whole number of pages.
func RoundToPage(n uintptr) uintptr {
	return AlignUp(n, uintptr(PageSize()))
}

// ValidateLayout checks the size/alignment pair of an allocation request.
func ValidateLayout(op string, size, align uintptr) error {
	if !IsPowerOfTwo(align) {
		return invalidLayout(op, size, align, "alignment must be a power of two")
	}
	if align > MaxAlignment {
		return invalidLayout(op, size, align, "alignment exceeds MaxAlignment")
	}
	if size > uintptr(^uint(0)>>1)-align {
		return invalidLayout(op, size, align, "size overflows")
	}
	return nil
}

// dangling returns an aligned pointer suitable for a zero-sized allocation.
func dangling(align uintptr) unsafe.Pointer {
	base := unsafe.Pointer(unsafe.SliceData(zeroSized))
	return unsafe.Add(base, AlignUp(uintptr(base), align)-uintptr(base))
}

// backing is an owned contiguous memory region whose start is aligned to bufferAlignment.
type backing struct {
	mem   []byte // keeps the allocation reachable
	start unsafe.Pointer
	size  uintptr
}

func newBacking(size uintptr) backing {
	mem := make([]byte, size+bufferAlignment-1)
	base := unsafe.Pointer(unsafe.SliceData(mem))
	pad := AlignUp(uintptr(base), bufferAlignment) - uintptr(base)
	return backing{
		mem:   mem,
		start: unsafe.Add(base, pad),
		size:  size,
	}
}

// at returns the address offset bytes past the start.
func (b *backing) at(offset uintptr) unsafe.Pointer {
	return unsafe.Add(b.start, offset)
}

// bytes returns the region [offset, offset+n) as a byte slice.
func (b *backing) bytes(offset, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(b.at(offset)), n)
}

func (b *backing) contains(p unsafe.Pointer) bool {
	a := uintptr(p)
	return a >= uintptr(b.start) && a < uintptr(b.start)+b.size
}

// offsetOf returns the distance from the start of b to p.
func (b *backing) offsetOf(p unsafe.Pointer) uintptr {
	return uintptr(p) - uintptr(b.start)
}
