// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"sync"
	"weak"
)

const (
	defaultPooledArenaSize = 1024 * 1024 // 1MB
	sizeWindow             = 50
)

// ArenaPool provides a thread-safe pool of BumpArena instances, one per
// request or node execution. Idle arenas are held through weak pointers so
// that the GC can reclaim them under memory pressure; the pool learns the
// average peak usage per key and sizes new arenas accordingly.
type ArenaPool struct {
	pool  []weak.Pointer[PoolItem]
	sizes map[uint64]*arenaPoolItemSize
	opts  []BumpArenaOption
	mu    sync.Mutex
}

// arenaPoolItemSize is used to track the required memory across the last 50 arenas of a key.
type arenaPoolItemSize struct {
	count      int
	totalBytes int
}

// PoolItem wraps a BumpArena checked out of an ArenaPool.
type PoolItem struct {
	Arena *BumpArena
	Key   uint64
}

// NewArenaPool creates a new ArenaPool. opts are applied to every arena the
// pool creates, before the learned initial size.
func NewArenaPool(opts ...BumpArenaOption) *ArenaPool {
	return &ArenaPool{
		sizes: make(map[uint64]*arenaPoolItemSize),
		opts:  opts,
	}
}

// Acquire gets an arena from the pool or creates a new one if none are available.
// The key identifies the use case and drives the initial size of new arenas.
func (p *ArenaPool) Acquire(key uint64) *PoolItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.pool) > 0 {
		lastIdx := len(p.pool) - 1
		wp := p.pool[lastIdx]
		p.pool = p.pool[:lastIdx]

		if v := wp.Value(); v != nil {
			v.Key = key
			return v
		}
		// collected by the GC, try the next one
	}

	opts := append(append([]BumpArenaOption{}, p.opts...), WithInitialSize(p.arenaSize(key)))
	return &PoolItem{
		Arena: NewBumpArena(opts...),
		Key:   key,
	}
}

// Release resets the arena and returns it to the pool.
// The peak memory usage is recorded to size future arenas of the same key.
func (p *ArenaPool) Release(item *PoolItem) {
	p.ReleaseMany([]*PoolItem{item})
}

// ReleaseMany returns several arenas under a single lock acquisition.
func (p *ArenaPool) ReleaseMany(items []*PoolItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range items {
		if item == nil || item.Arena == nil {
			continue
		}
		peak := item.Arena.Peak()
		item.Arena.Reset()

		if size, ok := p.sizes[item.Key]; ok {
			if size.count == sizeWindow {
				size.count = 1
				size.totalBytes = size.totalBytes / sizeWindow
			}
			size.count++
			size.totalBytes += peak
		} else {
			p.sizes[item.Key] = &arenaPoolItemSize{
				count:      1,
				totalBytes: peak,
			}
		}

		item.Key = 0
		p.pool = append(p.pool, weak.Make(item))
	}
}

// Idle returns the number of pooled arenas, including ones the GC may
// already have collected.
func (p *ArenaPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pool)
}

// arenaSize returns the learned arena size for a key, 1MB if unknown.
func (p *ArenaPool) arenaSize(key uint64) int {
	if size, ok := p.sizes[key]; ok && size.count > 0 {
		return max(size.totalBytes/size.count, minChunkSize)
	}
	return defaultPooledArenaSize
}
