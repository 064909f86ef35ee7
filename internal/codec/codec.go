// SPDX-License-Identifier: Apache-2.0

// Package codec packs idle pooled payloads. Each packed payload carries the
// algorithm it was packed with and an xxh3 checksum of the packed bytes.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/xxh3"
)

// Type selects a compression algorithm.
type Type uint8

const (
	None Type = iota
	Snappy
	LZ4
	Zstd
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Parse maps a name produced by String back to its Type.
func Parse(name string) (Type, error) {
	for _, t := range []Type{None, Snappy, LZ4, Zstd} {
		if t.String() == name {
			return t, nil
		}
	}
	return None, fmt.Errorf("unsupported codec %q", name)
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Compress packs data with t. None returns a copy.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return append([]byte(nil), data...), nil

	case Snappy:
		return snappy.Encode(nil, data), nil

	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, fmt.Errorf("lz4 apply level: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return buf.Bytes(), nil

	case Zstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported codec: %s", t)
	}
}

// Decompress unpacks data that was packed with t.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return append([]byte(nil), data...), nil

	case Snappy:
		return snappy.Decode(nil, data)

	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case Zstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unsupported codec: %s", t)
	}
}

// Checksum returns the xxh3 hash of data.
func Checksum(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Packed is a compressed payload with its checksum.
type Packed struct {
	Type     Type
	Data     []byte
	RawLen   int
	Checksum uint64
}

// Pack compresses data with t and checksums the result.
func Pack(t Type, data []byte) (Packed, error) {
	out, err := Compress(t, data)
	if err != nil {
		return Packed{}, err
	}
	// encoders over-allocate; keep only what the payload needs
	out = bytes.Clone(out)
	return Packed{Type: t, Data: out, RawLen: len(data), Checksum: Checksum(out)}, nil
}

// Valid reports whether the packed bytes still match their checksum.
func (p Packed) Valid() bool {
	return Checksum(p.Data) == p.Checksum
}

// Unpack verifies the checksum and decompresses the payload.
func (p Packed) Unpack() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%s payload checksum mismatch", p.Type)
	}
	out, err := Decompress(p.Type, p.Data)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", p.Type, err)
	}
	if len(out) != p.RawLen {
		return nil, fmt.Errorf("%s payload length %d, expected %d", p.Type, len(out), p.RawLen)
	}
	return out, nil
}
