// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"math"
	"unsafe"
)

const growThreshold = 256

// MakeSlice creates a slice of type T with a given length and capacity,
// using the provided Allocator for memory allocation.
// If the allocator is nil, it returns a slice using Go's built-in make function.
// T must not contain Go pointers.
func MakeSlice[T any](a Allocator, len, cap int) ([]T, error) {
	if len < 0 || cap < len {
		return nil, NewError(KindInvalidArgument, "make slice", "len and cap out of range")
	}
	var x T
	if size := unsafe.Sizeof(x); size > 0 && uintptr(cap) > math.MaxInt/size {
		return nil, NewError(KindInvalidLayout, "make slice", "size overflows")
	}
	if a == nil {
		return make([]T, len, cap), nil
	}
	if cap == 0 {
		return []T{}, nil
	}
	ptr, err := a.Allocate(unsafe.Sizeof(x)*uintptr(cap), unsafe.Alignof(x))
	if err != nil {
		return nil, err
	}
	s := unsafe.Slice((*T)(ptr), cap)
	return s[:len], nil
}

// AllocateSlice copies s into memory obtained from a.
func AllocateSlice[T any](a Allocator, s []T) ([]T, error) {
	out, err := MakeSlice[T](a, len(s), len(s))
	if err != nil {
		return nil, err
	}
	copy(out, s)
	return out, nil
}

// AllocateString copies s into memory obtained from a and returns a string
// backed by that memory. The string is only valid until the allocator is reset.
func AllocateString(a Allocator, s string) (string, error) {
	if len(s) == 0 {
		return "", nil
	}
	b, err := MakeSlice[byte](a, len(s), len(s))
	if err != nil {
		return "", err
	}
	copy(b, s)
	return unsafe.String(unsafe.SliceData(b), len(b)), nil
}

// SliceAppend appends elements to a slice of type T using a provided Allocator
// for memory allocation if needed.
func SliceAppend[T any](a Allocator, s []T, data ...T) ([]T, error) {
	if a == nil {
		return append(s, data...), nil
	}
	s, err := growSlice(a, s, len(data))
	if err != nil {
		return s, err
	}
	return append(s, data...), nil
}

func growSlice[T any](a Allocator, s []T, dataLen int) ([]T, error) {
	newLen := len(s) + dataLen
	newCap := cap(s)

	if newCap > 0 {
		for newLen > newCap {
			if newCap < growThreshold {
				newCap *= 2
			} else {
				newCap += newCap / 4
			}
		}
	} else {
		newCap = dataLen
	}
	if newCap == cap(s) {
		return s, nil
	}
	s2, err := MakeSlice[T](a, len(s), newCap)
	if err != nil {
		return s, err
	}
	copy(s2, s)
	return s2, nil
}
