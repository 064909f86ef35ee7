// SPDX-License-Identifier: Apache-2.0

package pool

import (
	arena "github.com/wundergraph/go-memkit"
)

// LocalPool is a pool for a single goroutine. It performs no
// synchronization and must not be shared.
type LocalPool[T Poolable] struct {
	cfg     Config
	factory func() T
	idle    []T
	live    int
	stats   Stats
}

// NewLocalPool creates a pool that builds new values with factory.
func NewLocalPool[T Poolable](factory func() T, opts ...Option) *LocalPool[T] {
	p := &LocalPool[T]{
		cfg:     newConfig(opts),
		factory: factory,
	}
	p.idle = make([]T, 0, p.cfg.InitialCapacity)
	if p.cfg.PreWarm {
		p.Reserve(p.cfg.InitialCapacity)
	}
	return p
}

// Get checks out an idle value or creates a new one. It fails with
// ErrPoolExhausted when the pool is at capacity.
func (p *LocalPool[T]) Get() (*Handle[T], error) {
	p.count(&p.stats.Gets)
	if v, ok := p.pop(); ok {
		return newHandle[T](p, v), nil
	}
	if !p.hasRoom() {
		return nil, arena.NewError(arena.KindPoolExhausted, "pool get", "no idle value and pool at capacity")
	}
	p.count(&p.stats.Misses)
	return newHandle[T](p, p.create()), nil
}

// TryGet checks out an idle value. It never calls the factory.
func (p *LocalPool[T]) TryGet() (*Handle[T], bool) {
	p.count(&p.stats.Gets)
	v, ok := p.pop()
	if !ok {
		return nil, false
	}
	return newHandle[T](p, v), true
}

func (p *LocalPool[T]) pop() (T, bool) {
	n := len(p.idle)
	if n == 0 {
		var zero T
		return zero, false
	}
	v := p.idle[n-1]
	var zero T
	p.idle[n-1] = zero
	p.idle = p.idle[:n-1]

	p.count(&p.stats.Hits)
	done := false
	defer p.releaseSlotUnless(&done)
	v.Reset()
	p.cfg.Callbacks.OnCheckout(v)
	done = true
	return v, true
}

func (p *LocalPool[T]) hasRoom() bool {
	return p.cfg.MaxCapacity == Unbounded || p.live < p.cfg.MaxCapacity
}

func (p *LocalPool[T]) create() T {
	p.live++
	done := false
	defer p.releaseSlotUnless(&done)
	v := p.factory()
	p.count(&p.stats.Creations)
	p.cfg.Callbacks.OnCreate(v)
	done = true
	return v
}

// releaseSlotUnless gives back the slot of a value lost to a panic.
func (p *LocalPool[T]) releaseSlotUnless(done *bool) {
	if !*done {
		p.live--
	}
}

func (p *LocalPool[T]) destroy(v T) {
	p.live--
	p.count(&p.stats.Destructions)
	p.cfg.Callbacks.OnDestroy(v)
}

func (p *LocalPool[T]) checkin(v T) {
	p.cfg.Callbacks.OnCheckin(v)
	p.count(&p.stats.Returns)

	if discard(&p.cfg, v) || (p.cfg.MaxCapacity != Unbounded && len(p.idle) >= p.cfg.MaxCapacity) {
		p.destroy(v)
		return
	}
	v.Reset()
	p.idle = append(p.idle, v)

	if underPressure(&p.cfg, len(p.idle)) {
		p.OptimizeMemory()
	}
}

func (p *LocalPool[T]) detach(T) {
	p.live--
}

// Reserve adds up to n new idle values, as far as capacity permits, and
// returns how many were added.
func (p *LocalPool[T]) Reserve(n int) int {
	added := 0
	for ; added < n && p.hasRoom(); added++ {
		p.idle = append(p.idle, p.create())
	}
	return added
}

// ShrinkTo destroys idle values until at most n remain.
func (p *LocalPool[T]) ShrinkTo(n int) {
	n = max(n, 0)
	for len(p.idle) > n {
		last := len(p.idle) - 1
		v := p.idle[last]
		var zero T
		p.idle[last] = zero
		p.idle = p.idle[:last]
		p.destroy(v)
	}
}

// Clear destroys every idle value.
func (p *LocalPool[T]) Clear() {
	p.ShrinkTo(0)
	p.count(&p.stats.Clears)
}

// OptimizeMemory compresses every idle value and returns the bytes saved.
func (p *LocalPool[T]) OptimizeMemory() int {
	var total uint64
	for _, v := range p.idle {
		attempted, saved := compress(v)
		if !attempted {
			continue
		}
		p.count(&p.stats.CompressionAttempts)
		total += saved
	}
	if p.cfg.TrackStatistics {
		p.stats.BytesSaved += total
	}
	return int(total)
}

// Available returns the number of idle values.
func (p *LocalPool[T]) Available() int {
	return len(p.idle)
}

// Live returns the number of idle and checked-out values.
func (p *LocalPool[T]) Live() int {
	return p.live
}

func (p *LocalPool[T]) Name() string {
	return p.cfg.Name
}

// Stats returns a snapshot of the counters. It is zero when statistics are
// disabled.
func (p *LocalPool[T]) Stats() Stats {
	return p.stats
}

func (p *LocalPool[T]) count(c *uint64) {
	if p.cfg.TrackStatistics {
		*c++
	}
}
