// SPDX-License-Identifier: Apache-2.0

// Package pooled provides ready-made pool.Poolable values.
package pooled

import (
	"github.com/wundergraph/go-memkit/internal/codec"
)

const (
	defaultFloorCapacity = 512
	defaultMaxCapacity   = 4 * 1024 * 1024 // 4MB
)

// Buffer is a growable byte payload for pools. Compress packs a non-empty
// payload with the configured codec and drops the raw capacity; an empty
// buffer shrinks back to its floor capacity instead. Bytes and Write unpack
// transparently.
type Buffer struct {
	raw    []byte
	packed *codec.Packed

	codec    codec.Type
	floorCap int
	maxCap   int
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithCodec sets the algorithm used by Compress. Defaults to snappy.
func WithCodec(t codec.Type) Option {
	return func(b *Buffer) {
		b.codec = t
	}
}

// WithFloorCapacity sets the capacity a new or shrunk buffer starts with.
func WithFloorCapacity(n int) Option {
	return func(b *Buffer) {
		b.floorCap = max(n, 0)
	}
}

// WithMaxCapacity sets the capacity beyond which the buffer is not reused.
func WithMaxCapacity(n int) Option {
	return func(b *Buffer) {
		b.maxCap = max(n, 0)
	}
}

// NewBuffer creates an empty buffer.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{
		codec:    codec.Snappy,
		floorCap: defaultFloorCapacity,
		maxCap:   defaultMaxCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.raw = make([]byte, 0, b.floorCap)
	return b
}

// Factory returns a pool factory building buffers with opts.
func Factory(opts ...Option) func() *Buffer {
	return func() *Buffer {
		return NewBuffer(opts...)
	}
}

// Write appends p, unpacking a compressed payload first.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.unpack(); err != nil {
		return 0, err
	}
	b.raw = append(b.raw, p...)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Bytes returns the payload, unpacking it if needed. The slice is valid
// until the next modification.
func (b *Buffer) Bytes() ([]byte, error) {
	if err := b.unpack(); err != nil {
		return nil, err
	}
	return b.raw, nil
}

// Len returns the payload length, packed or not.
func (b *Buffer) Len() int {
	if b.packed != nil {
		return b.packed.RawLen
	}
	return len(b.raw)
}

// Packed reports whether the payload is currently compressed.
func (b *Buffer) Packed() bool {
	return b.packed != nil
}

func (b *Buffer) unpack() error {
	if b.packed == nil {
		return nil
	}
	raw, err := b.packed.Unpack()
	if err != nil {
		return err
	}
	if cap(raw) < b.floorCap {
		raw = append(make([]byte, 0, b.floorCap), raw...)
	}
	b.raw = raw
	b.packed = nil
	return nil
}

// Reset empties the buffer and keeps its raw capacity.
func (b *Buffer) Reset() {
	b.raw = b.raw[:0]
	b.packed = nil
}

// Validate checks the packed payload against its checksum.
func (b *Buffer) Validate() bool {
	return b.packed == nil || b.packed.Valid()
}

// IsReusable rejects buffers that grew beyond the max capacity.
func (b *Buffer) IsReusable() bool {
	return cap(b.raw) <= b.maxCap
}

func (b *Buffer) MemoryUsage() int {
	n := cap(b.raw)
	if b.packed != nil {
		n += cap(b.packed.Data)
	}
	return n
}

// Compress shrinks the buffer. It never loses payload bytes.
func (b *Buffer) Compress() bool {
	if b.packed != nil {
		return false
	}
	if len(b.raw) == 0 {
		if cap(b.raw) <= b.floorCap {
			return false
		}
		b.raw = make([]byte, 0, b.floorCap)
		return true
	}
	if b.codec == codec.None {
		return false
	}
	p, err := codec.Pack(b.codec, b.raw)
	if err != nil || cap(p.Data) >= cap(b.raw) {
		return false
	}
	b.packed = &p
	b.raw = nil
	return true
}
