// SPDX-License-Identifier: Apache-2.0

package pooled

import (
	"sync"

	arena "github.com/wundergraph/go-memkit"
	"github.com/wundergraph/go-memkit/pool"
)

// ShelfStats counts what a Shelf did with parked buffers.
type ShelfStats struct {
	Parked     uint64
	Packed     uint64 // parked buffers whose payload went through the codec
	Taken      uint64
	Corrupted  uint64
	BytesSaved uint64
}

// Shelf parks checked-out buffers between uses. Parking compresses the
// payload with the buffer's codec while the handle keeps its pool slot; Take
// checks the payload checksum before handing the buffer back. A Shelf is safe
// for concurrent use.
type Shelf struct {
	mu     sync.Mutex
	parked map[string]*pool.Handle[*Buffer]
	stats  ShelfStats
}

func NewShelf() *Shelf {
	return &Shelf{parked: make(map[string]*pool.Handle[*Buffer])}
}

// Park compresses the buffer behind h and keeps h under key. A buffer already
// parked under key is released to its pool.
func (s *Shelf) Park(key string, h *pool.Handle[*Buffer]) {
	b := h.Value()
	before := b.MemoryUsage()
	b.Compress()
	saved := max(before-b.MemoryUsage(), 0)

	s.mu.Lock()
	old := s.parked[key]
	s.parked[key] = h
	s.stats.Parked++
	if b.Packed() {
		s.stats.Packed++
	}
	s.stats.BytesSaved += uint64(saved)
	s.mu.Unlock()

	if old != nil && old != h {
		old.Release()
	}
}

// Take removes the buffer parked under key. The payload stays packed until
// it is read. A payload that fails its checksum is released to the pool,
// which destroys it on validation, and Take fails with ErrInvalidArgument.
func (s *Shelf) Take(key string) (*pool.Handle[*Buffer], error) {
	s.mu.Lock()
	h, ok := s.parked[key]
	delete(s.parked, key)
	if ok {
		s.stats.Taken++
	}
	s.mu.Unlock()

	if !ok {
		return nil, arena.NewError(arena.KindInvalidArgument, "shelf take", "nothing parked under "+key)
	}
	if !h.Value().Validate() {
		s.mu.Lock()
		s.stats.Corrupted++
		s.mu.Unlock()
		h.Release()
		return nil, arena.NewError(arena.KindInvalidArgument, "shelf take", "checksum mismatch under "+key)
	}
	return h, nil
}

// ReleaseAll returns every parked buffer to its pool and reports how many
// there were.
func (s *Shelf) ReleaseAll() int {
	s.mu.Lock()
	parked := s.parked
	s.parked = make(map[string]*pool.Handle[*Buffer])
	s.mu.Unlock()

	for _, h := range parked {
		h.Release()
	}
	return len(parked)
}

// Len returns the number of parked buffers.
func (s *Shelf) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

func (s *Shelf) Stats() ShelfStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
