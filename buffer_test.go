// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestBufferBasicOperations(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(1024))
	buf := NewBuffer(arena)

	require.Equal(t, 0, buf.Len())
	require.Equal(t, 0, buf.Cap())
	require.Equal(t, "", buf.String())
	require.Equal(t, []byte{}, buf.Bytes())

	n, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, buf.WriteByte(' '))

	n, err = buf.WriteString("world")
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 11, buf.Len())
	require.Equal(t, "hello world", buf.String())

	// the backing slice lives in the arena
	require.True(t, isBumpArenaPtr(arena, unsafe.Pointer(unsafe.SliceData(buf.buf)), uintptr(buf.Len())))
}

func TestBufferReadOperations(t *testing.T) {
	buf := NewBuffer(NewBumpArena(WithInitialSize(1024)))
	_, err := buf.WriteString("hello world")
	require.NoError(t, err)

	p := make([]byte, 5)
	n, err := buf.Read(p)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("hello"), p)
	require.Equal(t, " world", buf.String())

	c, err := buf.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(' '), c)

	require.Equal(t, []byte("wor"), buf.Next(3))

	p = make([]byte, 10)
	n, err = buf.Read(p)
	require.Equal(t, io.EOF, err)
	require.Equal(t, []byte("ld"), p[:n])

	_, err = buf.ReadByte()
	require.Equal(t, io.EOF, err)
	require.Equal(t, []byte{}, buf.Next(5))
}

func TestBufferResetAndTruncate(t *testing.T) {
	buf := NewBuffer(NewBumpArena(WithInitialSize(1024)))
	_, err := buf.WriteString("hello world")
	require.NoError(t, err)

	buf.Truncate(5)
	require.Equal(t, "hello", buf.String())
	require.Panics(t, func() { buf.Truncate(-1) })
	require.Panics(t, func() { buf.Truncate(10) })

	capBefore := buf.Cap()
	buf.Reset()
	require.Equal(t, 0, buf.Len())
	require.Equal(t, capBefore, buf.Cap())

	_, err = buf.WriteString("new data")
	require.NoError(t, err)
	require.Equal(t, "new data", buf.String())
}

func TestBufferGrowth(t *testing.T) {
	buf := NewBuffer(NewBumpArena(WithInitialSize(1024)))

	for i := 0; i < 1000; i++ {
		_, err := buf.WriteString(strings.Repeat("x", 100))
		require.NoError(t, err)
	}
	require.Equal(t, 100000, buf.Len())
	require.True(t, buf.Cap() >= 100000)
}

func TestBufferWithoutArena(t *testing.T) {
	buf := NewBuffer(nil)

	_, err := buf.WriteString("hello world")
	require.NoError(t, err)
	require.Equal(t, "hello world", buf.String())

	var out bytes.Buffer
	n, err := buf.WriteTo(&out)
	require.NoError(t, err)
	require.Equal(t, int64(11), n)
	require.Equal(t, "hello world", out.String())
	require.Equal(t, 0, buf.Len())
}

func TestBufferAllocatorExhaustion(t *testing.T) {
	stack := NewStackAllocator(64)
	buf := NewBuffer(stack)

	_, err := buf.WriteString("hello")
	require.NoError(t, err)

	_, err = buf.Write(make([]byte, 200))
	require.ErrorIs(t, err, ErrOutOfMemory)
	// previous content survives the failed write
	require.Equal(t, "hello", buf.String())
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestBufferReadFrom(t *testing.T) {
	arena := NewBumpArena(WithInitialSize(64 * 1024))
	buf := NewBuffer(arena)

	n, err := buf.ReadFrom(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, int64(11), n)
	require.Equal(t, "hello world", buf.String())

	// the intermediate read buffer is allocated from the arena
	require.True(t, isBumpArenaPtr(arena, unsafe.Pointer(unsafe.SliceData(buf.readBuf)), readBufferSize))

	large := strings.Repeat("abc", 10000)
	buf.Reset()
	n, err = buf.ReadFrom(strings.NewReader(large))
	require.NoError(t, err)
	require.Equal(t, int64(len(large)), n)
	require.Equal(t, large, buf.String())

	boom := errors.New("boom")
	_, err = buf.ReadFrom(errReader{err: boom})
	require.ErrorIs(t, err, boom)
}

func BenchmarkBufferWrite(b *testing.B) {
	buf := NewBuffer(NewBumpArena(WithInitialSize(1024 * 1024)))
	data := []byte("hello world")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = buf.Write(data)
		buf.Reset()
	}
}

func BenchmarkStandardBytesBufferWrite(b *testing.B) {
	buf := &bytes.Buffer{}
	data := []byte("hello world")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Write(data)
		buf.Reset()
	}
}
