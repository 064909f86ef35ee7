// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// isBumpArenaPtr checks if the region [ptr, ptr+size) lies inside one of the arena chunks.
func isBumpArenaPtr(a *BumpArena, ptr unsafe.Pointer, size uintptr) bool {
	chunks := append(append([]*chunk{}, a.used...), a.free...)
	if a.head != nil {
		chunks = append(chunks, a.head)
	}
	for _, c := range chunks {
		start := uintptr(c.start)
		if uintptr(ptr) >= start && uintptr(ptr)+size <= start+c.size {
			return true
		}
	}
	return false
}

func TestBumpArenaLen(t *testing.T) {
	arena := NewBumpArena()
	require.Equal(t, 0, arena.Len())

	ptr1, err := arena.Allocate(100, 1)
	require.NoError(t, err)
	require.NotNil(t, ptr1)
	require.Equal(t, 100, arena.Len())

	_, err = arena.Allocate(200, 1)
	require.NoError(t, err)
	require.Equal(t, 300, arena.Len())

	// Should be more than 350 due to alignment padding
	_, err = arena.Allocate(50, 8)
	require.NoError(t, err)
	require.True(t, arena.Len() >= 350)
}

func TestBumpArenaCap(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(1024))
	require.Equal(t, 1024, arena.Cap())
	require.Equal(t, 1, arena.Chunks())

	arena = NewBumpArena(WithInitialSize(0))
	require.Equal(t, 0, arena.Cap())
	require.Equal(t, 0, arena.Chunks())

	// minimum chunk size
	arena = NewBumpArena(WithInitialSize(10))
	require.Equal(t, minChunkSize, arena.Cap())
}

func TestBumpArenaAlignment(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(4096))

	for _, align := range []uintptr{1, 2, 4, 8, 16, 32, 64, 128, 256} {
		ptr, err := arena.Allocate(3, align)
		require.NoError(t, err)
		require.True(t, IsAligned(ptr, align), "align %d", align)
		require.True(t, isBumpArenaPtr(arena, ptr, 3))
	}
	require.Greater(t, arena.Stats().PaddingBytes, uint64(0))
}

func TestBumpArenaInvalidLayout(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))

	_, err := arena.Allocate(8, 3)
	require.ErrorIs(t, err, ErrInvalidLayout)

	_, err = arena.Allocate(8, 0)
	require.ErrorIs(t, err, ErrInvalidLayout)

	_, err = arena.Allocate(8, MaxAlignment*2)
	require.ErrorIs(t, err, ErrInvalidLayout)

	require.Equal(t, 0, arena.Len())
	require.Equal(t, uint64(3), arena.Stats().FailedAllocations)
}

func TestBumpArenaZeroSize(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))

	ptr, err := arena.Allocate(0, 16)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.True(t, IsAligned(ptr, 16))
	require.Equal(t, 0, arena.Len())
	require.Equal(t, uint64(0), arena.Stats().Allocations)
}

func TestBumpArenaNoOverlap(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(256), WithGrowthFactor(1.5))

	type region struct{ start, end uintptr }
	var regions []region
	for i := 0; i < 500; i++ {
		size := uintptr(i%37 + 1)
		align := uintptr(1) << (i % 5)
		ptr, err := arena.Allocate(size, align)
		require.NoError(t, err)
		require.True(t, IsAligned(ptr, align))
		require.True(t, isBumpArenaPtr(arena, ptr, size))
		regions = append(regions, region{uintptr(ptr), uintptr(ptr) + size})
	}
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			overlap := regions[i].start < regions[j].end && regions[j].start < regions[i].end
			require.False(t, overlap, "regions %d and %d overlap", i, j)
		}
	}
}

func TestBumpArenaGrowth(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128), WithGrowthFactor(2))

	_, err := arena.Allocate(100, 1)
	require.NoError(t, err)
	require.Equal(t, 1, arena.Chunks())

	// does not fit the head chunk, next chunk is 2x the head
	_, err = arena.Allocate(100, 1)
	require.NoError(t, err)
	require.Equal(t, 2, arena.Chunks())
	require.Equal(t, 128+256, arena.Cap())
	require.Equal(t, 200, arena.Len())

	// oversized request gets a chunk of its own size
	_, err = arena.Allocate(4096, 8)
	require.NoError(t, err)
	require.Equal(t, 3, arena.Chunks())
	require.Equal(t, 4296, arena.Len())
}

func TestBumpArenaGrowthCap(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128), WithMaxChunkSize(256))

	_, err := arena.Allocate(512, 1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.Equal(t, 1, arena.Chunks())
	require.Equal(t, 0, arena.Len())

	var oom *Error
	require.True(t, errors.As(err, &oom))
	require.Equal(t, uintptr(512), oom.Size)
	require.Equal(t, uintptr(1), oom.Align)

	// a smaller retry succeeds
	_, err = arena.Allocate(200, 1)
	require.NoError(t, err)
}

func TestBumpArenaMaxTotalSize(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128), WithMaxTotalSize(256))

	_, err := arena.Allocate(128, 1)
	require.NoError(t, err)
	_, err = arena.Allocate(128, 1)
	require.NoError(t, err)
	require.Equal(t, 256, arena.Cap())

	_, err = arena.Allocate(1, 1)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestBumpArenaExactCapacity(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128), WithMaxChunkSize(128), WithMaxTotalSize(128))

	_, err := arena.Allocate(128, 1)
	require.NoError(t, err)

	_, err = arena.Allocate(1, 1)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestBumpArenaPositionRollback(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))

	_, err := arena.Allocate(32, 8)
	require.NoError(t, err)
	p := arena.CurrentPosition()

	first, err := arena.Allocate(16, 8)
	require.NoError(t, err)
	_, err = arena.Allocate(16, 8)
	require.NoError(t, err)

	require.NoError(t, arena.RestoreToPosition(p))
	require.Equal(t, 32, arena.Len())

	next, err := arena.Allocate(16, 8)
	require.NoError(t, err)
	require.Equal(t, first, next)
}

func TestBumpArenaPositionInvalidAfterGrowth(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(64))

	_, err := arena.Allocate(32, 8)
	require.NoError(t, err)
	p := arena.CurrentPosition()

	_, err = arena.Allocate(64, 8)
	require.NoError(t, err)
	require.Equal(t, 2, arena.Chunks())

	lenBefore := arena.Len()
	err = arena.RestoreToPosition(p)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Equal(t, lenBefore, arena.Len())
}

func TestBumpArenaPositionFuture(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))

	p0 := arena.CurrentPosition()
	_, err := arena.Allocate(32, 8)
	require.NoError(t, err)
	p1 := arena.CurrentPosition()

	require.NoError(t, arena.RestoreToPosition(p0))
	require.ErrorIs(t, arena.RestoreToPosition(p1), ErrInvalidArgument)
	require.Equal(t, 0, arena.Len())
}

func TestBumpArenaResetIdempotent(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))
	for i := 0; i < 10; i++ {
		_, err := arena.Allocate(100, 8)
		require.NoError(t, err)
	}
	chunks, capacity := arena.Chunks(), arena.Cap()

	arena.Reset()
	first := arena.CurrentPosition()
	arena.Reset()
	require.Equal(t, first, arena.CurrentPosition())
	require.Equal(t, 0, arena.Len())
	require.Equal(t, chunks, arena.Chunks())
	require.Equal(t, capacity, arena.Cap())
}

func TestBumpArenaResetReusesChunks(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))
	for i := 0; i < 10; i++ {
		_, err := arena.Allocate(100, 8)
		require.NoError(t, err)
	}
	chunks, capacity := arena.Chunks(), arena.Cap()
	arena.Reset()

	for i := 0; i < 10; i++ {
		_, err := arena.Allocate(100, 8)
		require.NoError(t, err)
	}
	require.Equal(t, chunks, arena.Chunks())
	require.Equal(t, capacity, arena.Cap())
}

func TestBumpArenaZeroesReusedMemory(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))
	b, err := MakeSlice[byte](arena, 64, 64)
	require.NoError(t, err)
	for i := range b {
		b[i] = 0xff
	}
	arena.Reset()

	b, err = MakeSlice[byte](arena, 64, 64)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 64), b)
}

func TestBumpArenaPeakAfterReset(t *testing.T) {
	arena := NewBumpArena()

	_, err := arena.Allocate(100, 1)
	require.NoError(t, err)
	_, err = arena.Allocate(200, 1)
	require.NoError(t, err)
	require.Equal(t, 300, arena.Peak())

	// Reset without release - peak should remain
	arena.Reset()
	require.Equal(t, 0, arena.Len())
	require.Equal(t, 300, arena.Peak())

	_, err = arena.Allocate(400, 1)
	require.NoError(t, err)
	require.Equal(t, 400, arena.Peak())

	// Release - peak should still remain
	arena.Release()
	require.Equal(t, 0, arena.Len())
	require.Equal(t, 0, arena.Cap())
	require.Equal(t, 400, arena.Peak())

	// usable after release
	_, err = arena.Allocate(10, 1)
	require.NoError(t, err)
	require.Equal(t, 10, arena.Len())
}

func TestBumpArenaStats(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(128))
	_, err := arena.Allocate(10, 1)
	require.NoError(t, err)
	_, err = arena.Allocate(10, 8)
	require.NoError(t, err)
	p := arena.CurrentPosition()
	_, err = arena.Allocate(8, 8)
	require.NoError(t, err)
	require.NoError(t, arena.RestoreToPosition(p))

	st := arena.Stats()
	require.Equal(t, uint64(3), st.Allocations)
	require.Equal(t, uint64(28), st.BytesAllocated)
	require.Equal(t, uint64(12), st.PaddingBytes)
	require.Equal(t, uint64(1), st.Deallocations)
	require.Equal(t, uint64(14), st.BytesDeallocated)
	require.Equal(t, uint64(26), st.CurrentBytes)
	require.Equal(t, uint64(40), st.PeakBytes)

	disabled := NewBumpArena(WithStatistics(false))
	_, err = disabled.Allocate(10, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), disabled.Stats().Allocations)
	require.Equal(t, uint64(10), disabled.Stats().CurrentBytes)
}

func TestBumpArenaWithTypes(t *testing.T) {
	arena := NewBumpArena()

	type TestStruct struct {
		a int64
		b int32
		c int16
	}

	ptr1 := New[TestStruct](arena)
	require.NotNil(t, ptr1)
	expectedSize := unsafe.Sizeof(TestStruct{})
	require.Equal(t, int(expectedSize), arena.Len())

	v, err := AllocateValue(arena, TestStruct{a: 1, b: 2, c: 3})
	require.NoError(t, err)
	require.Equal(t, TestStruct{a: 1, b: 2, c: 3}, *v)

	s, err := AllocateSlice(arena, []int{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, s)
	require.True(t, isBumpArenaPtr(arena, unsafe.Pointer(unsafe.SliceData(s)), 3*unsafe.Sizeof(int(0))))

	str, err := AllocateString(arena, "workflow")
	require.NoError(t, err)
	require.Equal(t, "workflow", str)
	require.True(t, isBumpArenaPtr(arena, unsafe.Pointer(unsafe.StringData(str)), 8))
}

func BenchmarkBumpArenaAllocate(b *testing.B) {
	arena := NewBumpArena(WithInitialSize(1024 * 1024))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := arena.Allocate(64, 8); err != nil {
			arena.Reset()
		}
	}
}
