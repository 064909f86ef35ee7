// SPDX-License-Identifier: Apache-2.0

// Package pool provides object pools for values that are expensive to build
// and cheap to reset. Three variants share one contract:
//
//   - LocalPool for a single goroutine, without any synchronization
//   - SyncPool guarded by a mutex, with timed waits and shutdown
//   - LockFreePool backed by a Treiber stack
//
// Values are checked out through a Handle and go back to the pool when the
// handle is released. Bounded pools cap the number of live values, idle and
// checked out together.
package pool

import (
	"sync/atomic"
)

// Poolable is implemented by every value stored in a pool.
type Poolable interface {
	// Reset returns the value to a neutral state. It must keep the value's
	// underlying capacity.
	Reset()
	// Validate reports whether the value is structurally sound.
	Validate() bool
	// IsReusable reports whether the pool should take the value back.
	IsReusable() bool
	// MemoryUsage is a best-effort byte count.
	MemoryUsage() int
}

// Compressor is implemented by values that can shrink their footprint in
// place. Compress reports whether anything was reduced and must never lose
// data.
type Compressor interface {
	Compress() bool
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Gets                uint64
	Hits                uint64
	Misses              uint64
	Returns             uint64
	Creations           uint64
	Destructions        uint64
	Clears              uint64
	CompressionAttempts uint64
	BytesSaved          uint64
}

// counters backs Stats for the pools shared between goroutines.
type counters struct {
	gets, hits, misses, returns     atomic.Uint64
	creations, destructions, clears atomic.Uint64
	compressionAttempts, bytesSaved atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Gets:                c.gets.Load(),
		Hits:                c.hits.Load(),
		Misses:              c.misses.Load(),
		Returns:             c.returns.Load(),
		Creations:           c.creations.Load(),
		Destructions:        c.destructions.Load(),
		Clears:              c.clears.Load(),
		CompressionAttempts: c.compressionAttempts.Load(),
		BytesSaved:          c.bytesSaved.Load(),
	}
}

// compress asks v to shrink itself. attempted is false when v does not
// implement Compressor.
func compress[T Poolable](v T) (attempted bool, saved uint64) {
	c, ok := any(v).(Compressor)
	if !ok {
		return false, 0
	}
	before := v.MemoryUsage()
	if !c.Compress() {
		return true, 0
	}
	if after := v.MemoryUsage(); after < before {
		return true, uint64(before - after)
	}
	return true, 0
}

// discard reports whether a returned value must be destroyed instead of
// being put back.
func discard[T Poolable](cfg *Config, v T) bool {
	return cfg.ValidateOnReturn && (!v.Validate() || !v.IsReusable())
}

// underPressure reports whether idle values fill the pool beyond the
// configured threshold. Unbounded pools never are.
func underPressure(cfg *Config, idle int) bool {
	if cfg.PressureThreshold <= 0 || cfg.MaxCapacity <= 0 {
		return false
	}
	return idle*100 >= cfg.PressureThreshold*cfg.MaxCapacity
}
