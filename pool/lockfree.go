// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	arena "github.com/wundergraph/go-memkit"
)

type node[T Poolable] struct {
	value T
	next  *node[T]
}

// LockFreePool keeps idle values on a Treiber stack. Every push allocates a
// fresh node and nodes are never recycled, so a popped head cannot reappear
// with a different successor.
//
// The idle counter is best effort. Bounded pools reserve a slot per live
// value with an atomic counter, while the idle set may overshoot the capacity
// briefly under contention before returns start destroying values.
type LockFreePool[T Poolable] struct {
	cfg     Config
	factory func() T
	stats   counters

	head atomic.Pointer[node[T]]
	size atomic.Int64
	live atomic.Int64

	compressing atomic.Bool
	background  sync.WaitGroup
}

// NewLockFreePool creates a pool that builds new values with factory.
func NewLockFreePool[T Poolable](factory func() T, opts ...Option) *LockFreePool[T] {
	p := &LockFreePool[T]{
		cfg:     newConfig(opts),
		factory: factory,
	}
	if p.cfg.PreWarm {
		p.Reserve(p.cfg.InitialCapacity)
	}
	return p
}

// Get checks out an idle value or creates a new one. It fails with
// ErrPoolExhausted when the pool is at capacity.
func (p *LockFreePool[T]) Get() (*Handle[T], error) {
	p.count(&p.stats.gets)
	if v, ok := p.pop(); ok {
		return newHandle[T](p, p.checkout(v)), nil
	}
	if !p.reserveSlot() {
		return nil, arena.NewError(arena.KindPoolExhausted, "pool get", "no idle value and pool at capacity")
	}
	p.count(&p.stats.misses)
	return newHandle[T](p, p.create()), nil
}

// TryGet checks out an idle value. It never calls the factory.
func (p *LockFreePool[T]) TryGet() (*Handle[T], bool) {
	p.count(&p.stats.gets)
	v, ok := p.pop()
	if !ok {
		return nil, false
	}
	return newHandle[T](p, p.checkout(v)), true
}

func (p *LockFreePool[T]) push(v T) {
	n := &node[T]{value: v}
	for {
		head := p.head.Load()
		n.next = head
		if p.head.CompareAndSwap(head, n) {
			p.size.Add(1)
			return
		}
	}
}

func (p *LockFreePool[T]) pop() (T, bool) {
	for {
		head := p.head.Load()
		if head == nil {
			var zero T
			return zero, false
		}
		if p.head.CompareAndSwap(head, head.next) {
			p.size.Add(-1)
			return head.value, true
		}
	}
}

// drain detaches the whole stack with a single swap.
func (p *LockFreePool[T]) drain() []T {
	head := p.head.Swap(nil)
	var values []T
	for n := head; n != nil; n = n.next {
		values = append(values, n.value)
	}
	p.size.Add(-int64(len(values)))
	return values
}

// reserveSlot accounts for a new live value, failing at capacity.
func (p *LockFreePool[T]) reserveSlot() bool {
	if p.cfg.MaxCapacity == Unbounded {
		p.live.Add(1)
		return true
	}
	for {
		live := p.live.Load()
		if live >= int64(p.cfg.MaxCapacity) {
			return false
		}
		if p.live.CompareAndSwap(live, live+1) {
			return true
		}
	}
}

func (p *LockFreePool[T]) checkout(v T) T {
	p.count(&p.stats.hits)
	done := false
	defer p.releaseSlotUnless(&done)
	v.Reset()
	p.cfg.Callbacks.OnCheckout(v)
	done = true
	return v
}

func (p *LockFreePool[T]) create() T {
	done := false
	defer p.releaseSlotUnless(&done)
	v := p.factory()
	p.count(&p.stats.creations)
	p.cfg.Callbacks.OnCreate(v)
	done = true
	return v
}

// releaseSlotUnless gives back the slot of a value lost to a panic.
func (p *LockFreePool[T]) releaseSlotUnless(done *bool) {
	if !*done {
		p.live.Add(-1)
	}
}

func (p *LockFreePool[T]) destroy(v T) {
	p.live.Add(-1)
	p.count(&p.stats.destructions)
	p.cfg.Callbacks.OnDestroy(v)
}

func (p *LockFreePool[T]) checkin(v T) {
	p.cfg.Callbacks.OnCheckin(v)
	p.count(&p.stats.returns)

	if discard(&p.cfg, v) || (p.cfg.MaxCapacity != Unbounded && p.size.Load() >= int64(p.cfg.MaxCapacity)) {
		p.destroy(v)
		return
	}
	v.Reset()
	p.push(v)

	if underPressure(&p.cfg, int(p.size.Load())) {
		p.compressAsync()
	}
}

func (p *LockFreePool[T]) detach(T) {
	p.live.Add(-1)
}

// compressAsync runs one background compression pass unless one is already
// in flight.
func (p *LockFreePool[T]) compressAsync() {
	if !p.compressing.CompareAndSwap(false, true) {
		return
	}
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		defer p.compressing.Store(false)

		saved := p.CompressIdle()
		p.cfg.Logger.WithFields(logrus.Fields{
			"action": "pool_compress_idle",
			"pool":   p.cfg.Name,
			"saved":  saved,
		}).Debug("compressed idle values under pressure")
	}()
}

// CompressIdle drains the idle stack, compresses each value and pushes them
// back. The pool looks empty while this runs. It returns the bytes saved.
func (p *LockFreePool[T]) CompressIdle() int {
	values := p.drain()

	var total uint64
	for _, v := range values {
		attempted, saved := compress(v)
		if attempted {
			p.count(&p.stats.compressionAttempts)
			total += saved
		}
	}
	if p.cfg.TrackStatistics {
		p.stats.bytesSaved.Add(total)
	}
	for _, v := range values {
		p.push(v)
	}
	return int(total)
}

// OptimizeMemory is CompressIdle.
func (p *LockFreePool[T]) OptimizeMemory() int {
	return p.CompressIdle()
}

// Wait blocks until background compression has finished.
func (p *LockFreePool[T]) Wait() {
	p.background.Wait()
}

// Reserve adds up to n new idle values, as far as capacity permits, and
// returns how many were added.
func (p *LockFreePool[T]) Reserve(n int) int {
	added := 0
	for ; added < n && p.reserveSlot(); added++ {
		p.push(p.create())
	}
	return added
}

// ShrinkTo destroys idle values until at most n remain.
func (p *LockFreePool[T]) ShrinkTo(n int) {
	for p.size.Load() > int64(max(n, 0)) {
		v, ok := p.pop()
		if !ok {
			return
		}
		p.destroy(v)
	}
}

// Clear destroys every idle value.
func (p *LockFreePool[T]) Clear() {
	for _, v := range p.drain() {
		p.destroy(v)
	}
	p.count(&p.stats.clears)
}

// Available returns the number of idle values. It may lag behind concurrent
// pushes and pops.
func (p *LockFreePool[T]) Available() int {
	return int(max(p.size.Load(), 0))
}

// Live returns the number of idle and checked-out values.
func (p *LockFreePool[T]) Live() int {
	return int(p.live.Load())
}

func (p *LockFreePool[T]) Name() string {
	return p.cfg.Name
}

// Stats returns a snapshot of the counters. It is zero when statistics are
// disabled.
func (p *LockFreePool[T]) Stats() Stats {
	return p.stats.snapshot()
}

func (p *LockFreePool[T]) count(c *atomic.Uint64) {
	if p.cfg.TrackStatistics {
		c.Add(1)
	}
}
