// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"slices"
)

const testPayloadCap = 64

// testObject is a Poolable with a compressible payload.
type testObject struct {
	field  int
	dirty  bool
	broken bool
	resets int
	data   []byte
}

func newTestObject() *testObject {
	return &testObject{data: make([]byte, 0, testPayloadCap)}
}

func (o *testObject) Reset() {
	o.field = 0
	o.dirty = false
	o.data = o.data[:0]
	o.resets++
}

func (o *testObject) Validate() bool   { return !o.broken }
func (o *testObject) IsReusable() bool { return o.field >= 0 }
func (o *testObject) MemoryUsage() int { return 32 + cap(o.data) }

func (o *testObject) Compress() bool {
	if cap(o.data) == len(o.data) {
		return false
	}
	o.data = slices.Clip(append([]byte(nil), o.data...))
	return true
}

// plainObject does not implement Compressor.
type plainObject struct{ n int }

func (o *plainObject) Reset()           { o.n = 0 }
func (o *plainObject) Validate() bool   { return true }
func (o *plainObject) IsReusable() bool { return true }
func (o *plainObject) MemoryUsage() int { return 8 }
