// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"io"
)

const readBufferSize = 4 * 1024

// Buffer is a bytes.Buffer-like struct backed by an Allocator.
// It implements io.Writer, io.Reader and io.ReaderFrom. Growth failures of the
// allocator surface as write errors; the buffer keeps its previous contents.
type Buffer struct {
	alloc   Allocator
	buf     []byte
	off     int    // number of unread bytes
	readBuf []byte // intermediate buffer for ReadFrom
}

// NewBuffer creates a new Buffer backed by the given allocator.
// If a is nil, it falls back to standard Go allocation.
func NewBuffer(a Allocator) *Buffer {
	return &Buffer{alloc: a}
}

// Write implements io.Writer interface.
func (b *Buffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf, err := SliceAppend(b.alloc, b.buf[:b.off], p...)
	if err != nil {
		return 0, err
	}
	b.buf = buf
	b.off = len(b.buf)
	return len(p), nil
}

// WriteByte writes a single byte to the buffer.
func (b *Buffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

// WriteString writes a string to the buffer.
func (b *Buffer) WriteString(s string) (n int, err error) {
	return b.Write([]byte(s))
}

// WriteTo implements io.WriterTo.
func (b *Buffer) WriteTo(w io.Writer) (n int64, err error) {
	if b.off == 0 {
		return 0, nil
	}
	m, err := w.Write(b.buf[:b.off])
	if m > 0 {
		n += int64(m)
		b.consume(m)
	}
	return n, err
}

// Read reads up to len(p) bytes from the buffer into p.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if b.off == 0 {
		return 0, io.EOF
	}
	n = copy(p, b.buf[:b.off])
	if n < len(p) {
		err = io.EOF
	}
	b.consume(n)
	return n, err
}

// ReadByte reads and returns the next byte from the buffer.
func (b *Buffer) ReadByte() (byte, error) {
	if b.off == 0 {
		return 0, io.EOF
	}
	c := b.buf[0]
	b.consume(1)
	return c, nil
}

// consume drops the first n unread bytes by shifting the remainder.
func (b *Buffer) consume(n int) {
	copy(b.buf, b.buf[n:b.off])
	b.off -= n
	b.buf = b.buf[:b.off]
}

// Bytes returns the unread portion of the buffer.
// The slice is valid for use only until the next buffer modification.
func (b *Buffer) Bytes() []byte {
	if b.off == 0 {
		return []byte{}
	}
	return b.buf[:b.off]
}

// String returns the contents of the unread portion of the buffer as a string.
func (b *Buffer) String() string {
	return string(b.buf[:b.off])
}

// Len returns the number of bytes of the unread portion of the buffer.
func (b *Buffer) Len() int {
	return b.off
}

// Cap returns the capacity of the buffer's underlying byte slice.
func (b *Buffer) Cap() int {
	return cap(b.buf)
}

// Reset resets the buffer to be empty but keeps its capacity.
func (b *Buffer) Reset() {
	b.off = 0
	b.buf = b.buf[:0]
}

// Truncate discards all but the first n unread bytes from the buffer.
// It panics if n is negative or greater than the length of the buffer.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > b.off {
		panic("arena: truncation out of range")
	}
	b.off = n
	b.buf = b.buf[:n]
}

// Next returns a copy of the next n bytes from the buffer,
// advancing the buffer as if the bytes had been returned by Read.
func (b *Buffer) Next(n int) []byte {
	n = min(max(n, 0), b.off)
	if n == 0 {
		return []byte{}
	}
	result := make([]byte, n)
	copy(result, b.buf[:n])
	b.consume(n)
	return result
}

// ReadFrom implements io.ReaderFrom interface.
// The intermediate read buffer is allocated from the allocator.
func (b *Buffer) ReadFrom(r io.Reader) (n int64, err error) {
	if b.readBuf == nil {
		b.readBuf, err = MakeSlice[byte](b.alloc, readBufferSize, readBufferSize)
		if err != nil {
			b.readBuf = make([]byte, readBufferSize)
		}
	}
	for {
		nr, er := r.Read(b.readBuf)
		if nr > 0 {
			if _, ew := b.Write(b.readBuf[:nr]); ew != nil {
				return n, ew
			}
			n += int64(nr)
		}
		if er != nil {
			if er == io.EOF {
				return n, nil
			}
			return n, er
		}
	}
}
