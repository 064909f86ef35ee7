// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	data := bytes.Repeat([]byte("memkit pooled payload "), 200)

	for _, typ := range []Type{None, Snappy, LZ4, Zstd} {
		t.Run(typ.String(), func(t *testing.T) {
			p, err := Pack(typ, data)
			require.NoError(t, err)
			require.True(t, p.Valid())
			require.Equal(t, len(data), p.RawLen)
			if typ != None {
				require.Less(t, len(p.Data), len(data))
			}

			out, err := p.Unpack()
			require.NoError(t, err)
			require.Equal(t, data, out)
		})
	}
}

func TestUnpackDetectsCorruption(t *testing.T) {
	p, err := Pack(Snappy, bytes.Repeat([]byte("x"), 512))
	require.NoError(t, err)

	p.Data[len(p.Data)-1] ^= 0xFF
	require.False(t, p.Valid())
	_, err = p.Unpack()
	require.ErrorContains(t, err, "checksum mismatch")
}

func TestEmptyPayload(t *testing.T) {
	for _, typ := range []Type{None, Snappy, LZ4, Zstd} {
		p, err := Pack(typ, nil)
		require.NoError(t, err)
		out, err := p.Unpack()
		require.NoError(t, err)
		require.Empty(t, out)
	}
}

func TestParse(t *testing.T) {
	for _, typ := range []Type{None, Snappy, LZ4, Zstd} {
		got, err := Parse(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, got)
	}
	_, err := Parse("brotli")
	require.Error(t, err)

	_, err = Compress(Type(42), []byte("x"))
	require.ErrorContains(t, err, "unknown(42)")
}
