// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	arena "github.com/wundergraph/go-memkit"
)

// SyncPool is a pool guarded by a mutex. When it is at capacity, Get waits
// for a value to come back. The mutex is never held while the factory or a
// callback runs. OptimizeMemory compresses idle values under the mutex so
// that they stay visible to Get, ShrinkTo and Clear.
type SyncPool[T Poolable] struct {
	cfg     Config
	factory func() T
	stats   counters

	mu       sync.Mutex
	idle     []T
	live     int
	closed   bool
	returned chan struct{} // closed and replaced whenever capacity frees up
}

// NewSyncPool creates a pool that builds new values with factory.
func NewSyncPool[T Poolable](factory func() T, opts ...Option) *SyncPool[T] {
	p := &SyncPool[T]{
		cfg:      newConfig(opts),
		factory:  factory,
		returned: make(chan struct{}),
	}
	p.idle = make([]T, 0, p.cfg.InitialCapacity)
	if p.cfg.PreWarm {
		p.Reserve(p.cfg.InitialCapacity)
	}
	return p
}

// Get checks out a value, waiting up to the configured wait timeout when the
// pool is at capacity.
func (p *SyncPool[T]) Get() (*Handle[T], error) {
	return p.GetTimeout(p.cfg.WaitTimeout)
}

// GetTimeout checks out a value, waiting up to d when the pool is at
// capacity. A non-positive d fails immediately with ErrPoolExhausted; an
// elapsed wait fails with ErrTimeout.
func (p *SyncPool[T]) GetTimeout(d time.Duration) (*Handle[T], error) {
	if d <= 0 {
		return p.get(nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.get(ctx)
}

// GetContext checks out a value, waiting until ctx is done when the pool is
// at capacity.
func (p *SyncPool[T]) GetContext(ctx context.Context) (*Handle[T], error) {
	return p.get(ctx)
}

// get waits on ctx for capacity. A nil ctx never waits.
func (p *SyncPool[T]) get(ctx context.Context) (*Handle[T], error) {
	p.count(&p.stats.gets)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, arena.NewError(arena.KindPoolShutdown, "pool get", p.cfg.Name)
		}
		if v, ok := p.popLocked(); ok {
			p.mu.Unlock()
			return newHandle[T](p, p.checkout(v)), nil
		}
		if p.hasRoomLocked() {
			p.live++
			p.mu.Unlock()
			p.count(&p.stats.misses)
			return newHandle[T](p, p.create()), nil
		}
		returned := p.returned
		p.mu.Unlock()

		if ctx == nil {
			return nil, arena.NewError(arena.KindPoolExhausted, "pool get", "no idle value and pool at capacity")
		}
		select {
		case <-returned:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, arena.NewError(arena.KindTimeout, "pool get", "timed out waiting for an idle value")
			}
			return nil, arena.NewError(arena.KindCancelled, "pool get", ctx.Err().Error())
		}
	}
}

// TryGet checks out an idle value without waiting. It never calls the
// factory and fails after shutdown.
func (p *SyncPool[T]) TryGet() (*Handle[T], bool) {
	p.count(&p.stats.gets)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false
	}
	v, ok := p.popLocked()
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	return newHandle[T](p, p.checkout(v)), true
}

func (p *SyncPool[T]) popLocked() (T, bool) {
	var zero T
	n := len(p.idle)
	if n == 0 {
		return zero, false
	}
	v := p.idle[n-1]
	p.idle[n-1] = zero
	p.idle = p.idle[:n-1]
	return v, true
}

func (p *SyncPool[T]) checkout(v T) T {
	p.count(&p.stats.hits)
	done := false
	defer p.releaseSlotUnless(&done)
	v.Reset()
	p.cfg.Callbacks.OnCheckout(v)
	done = true
	return v
}

func (p *SyncPool[T]) hasRoomLocked() bool {
	return p.cfg.MaxCapacity == Unbounded || p.live < p.cfg.MaxCapacity
}

// create builds a value whose capacity slot is already accounted for.
func (p *SyncPool[T]) create() T {
	done := false
	defer p.releaseSlotUnless(&done)
	v := p.factory()
	p.count(&p.stats.creations)
	p.cfg.Callbacks.OnCreate(v)
	done = true
	return v
}

// releaseSlotUnless gives back the slot of a value that never reached the
// caller because the factory, Reset or a callback panicked.
func (p *SyncPool[T]) releaseSlotUnless(done *bool) {
	if *done {
		return
	}
	p.mu.Lock()
	p.live--
	p.notifyLocked()
	p.mu.Unlock()
}

// destroy reports the end of a value whose slot was already released.
func (p *SyncPool[T]) destroy(v T) {
	p.count(&p.stats.destructions)
	p.cfg.Callbacks.OnDestroy(v)
}

// notifyLocked wakes every goroutine waiting in get.
func (p *SyncPool[T]) notifyLocked() {
	close(p.returned)
	p.returned = make(chan struct{})
}

func (p *SyncPool[T]) checkin(v T) {
	p.cfg.Callbacks.OnCheckin(v)
	p.count(&p.stats.returns)

	keep := !discard(&p.cfg, v)
	if keep {
		v.Reset()
	}

	p.mu.Lock()
	if !keep || p.closed || (p.cfg.MaxCapacity != Unbounded && len(p.idle) >= p.cfg.MaxCapacity) {
		p.live--
		p.notifyLocked()
		p.mu.Unlock()
		p.destroy(v)
		return
	}
	p.idle = append(p.idle, v)
	pressure := underPressure(&p.cfg, len(p.idle))
	p.notifyLocked()
	p.mu.Unlock()

	if pressure {
		p.OptimizeMemory()
	}
}

func (p *SyncPool[T]) detach(T) {
	p.mu.Lock()
	p.live--
	p.notifyLocked()
	p.mu.Unlock()
}

// Reserve adds up to n new idle values, as far as capacity permits, and
// returns how many were added.
func (p *SyncPool[T]) Reserve(n int) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	if p.cfg.MaxCapacity != Unbounded {
		n = min(n, p.cfg.MaxCapacity-p.live)
	}
	n = max(n, 0)
	p.live += n
	p.mu.Unlock()

	values := make([]T, 0, n)
	for i := 0; i < n; i++ {
		values = append(values, p.create())
	}

	p.mu.Lock()
	if p.closed {
		p.live -= n
		p.mu.Unlock()
		for _, v := range values {
			p.destroy(v)
		}
		return 0
	}
	p.idle = append(p.idle, values...)
	p.notifyLocked()
	p.mu.Unlock()
	return n
}

// ShrinkTo destroys idle values until at most n remain.
func (p *SyncPool[T]) ShrinkTo(n int) {
	p.mu.Lock()
	victims := p.takeLocked(max(n, 0))
	p.mu.Unlock()

	for _, v := range victims {
		p.destroy(v)
	}
}

// Clear destroys every idle value.
func (p *SyncPool[T]) Clear() {
	p.ShrinkTo(0)
	p.count(&p.stats.clears)
}

// takeLocked removes idle values beyond keep and releases their slots.
func (p *SyncPool[T]) takeLocked(keep int) []T {
	if len(p.idle) <= keep {
		return nil
	}
	victims := append([]T(nil), p.idle[keep:]...)
	clear(p.idle[keep:])
	p.idle = p.idle[:keep]
	p.live -= len(victims)
	p.notifyLocked()
	return victims
}

// OptimizeMemory compresses every idle value and returns the bytes saved.
// The mutex is held throughout, so Get waits for the pass instead of missing
// the values being compressed.
func (p *SyncPool[T]) OptimizeMemory() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total uint64
	for _, v := range p.idle {
		attempted, saved := compress(v)
		if attempted {
			p.count(&p.stats.compressionAttempts)
			total += saved
		}
	}
	if p.cfg.TrackStatistics {
		p.stats.bytesSaved.Add(total)
	}
	return int(total)
}

// Shutdown destroys all idle values and wakes every waiter. Afterwards Get
// fails with ErrPoolShutdown and returned values are destroyed. Shutdown is
// terminal and idempotent.
func (p *SyncPool[T]) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.takeLocked(0)
	live := p.live
	p.mu.Unlock()

	for _, v := range idle {
		p.destroy(v)
	}
	p.cfg.Logger.WithFields(logrus.Fields{
		"action":      "pool_shutdown",
		"pool":        p.cfg.Name,
		"destroyed":   len(idle),
		"checked_out": live,
	}).Debug("pool shut down")
}

// IsShutdown reports whether Shutdown was called.
func (p *SyncPool[T]) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Available returns the number of idle values.
func (p *SyncPool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Live returns the number of idle and checked-out values.
func (p *SyncPool[T]) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *SyncPool[T]) Name() string {
	return p.cfg.Name
}

// Stats returns a snapshot of the counters. It is zero when statistics are
// disabled.
func (p *SyncPool[T]) Stats() Stats {
	return p.stats.snapshot()
}

func (p *SyncPool[T]) count(c *atomic.Uint64) {
	if p.cfg.TrackStatistics {
		c.Add(1)
	}
}
