// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strconv"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	arena "github.com/wundergraph/go-memkit"
	"github.com/wundergraph/go-memkit/asyncarena"
	"github.com/wundergraph/go-memkit/internal/codec"
	"github.com/wundergraph/go-memkit/pool"
	"github.com/wundergraph/go-memkit/pool/observe"
	"github.com/wundergraph/go-memkit/pool/pooled"
)

// bufferPool is the part of the pool API the stress loop needs.
type bufferPool interface {
	Get() (*pool.Handle[*pooled.Buffer], error)
	Available() int
	Live() int
	Stats() pool.Stats
}

func poolCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "pool",
		Usage: "check pooled buffers in and out",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Value: "lockfree", Usage: "local, sync or lockfree"},
			&cli.IntFlag{Name: "capacity", Value: pool.Unbounded, Usage: "max live buffers, -1 for unbounded"},
			&cli.IntFlag{Name: "pressure", Value: 0, Usage: "idle percentage that triggers compression, 0 disables it"},
			&cli.StringFlag{Name: "codec", Value: codec.Snappy.String(), Usage: "none, snappy, lz4 or zstd"},
			&cli.IntFlag{Name: "payload", Value: 4096, Usage: "max bytes written per checkout"},
		},
		Action: func(c *cli.Context) error {
			typ, err := codec.Parse(c.String("codec"))
			if err != nil {
				return errors.Wrap(err, "pool command")
			}
			st, shelf, err := e.runPool(c.Context, c.String("kind"), c.Int("capacity"), c.Int("pressure"), typ, c.Int("payload"))
			if err != nil {
				return err
			}
			e.logger.WithFields(logrus.Fields{
				"action":             "memstress_pool",
				"kind":               c.String("kind"),
				"codec":              typ.String(),
				"gets":               st.Gets,
				"hits":               st.Hits,
				"misses":             st.Misses,
				"returns":            st.Returns,
				"creations":          st.Creations,
				"destructions":       st.Destructions,
				"compressions":       st.CompressionAttempts,
				"bytes_saved":        st.BytesSaved,
				"parked":             shelf.Parked,
				"parked_packed":      shelf.Packed,
				"parked_bytes_saved": shelf.BytesSaved,
			}).Info("pool run finished")
			return nil
		},
	}
}

// runPool has every worker write a payload, park the buffer compressed on a
// shelf and check it back out on its next iteration to verify the payload.
func (e *env) runPool(ctx context.Context, kind string, capacity, pressure int, typ codec.Type, payload int) (pool.Stats, pooled.ShelfStats, error) {
	name := "memstress_" + kind
	opts := []pool.Option{
		pool.WithName(name),
		pool.WithMaxCapacity(capacity),
		pool.WithPressureThreshold(pressure),
		pool.WithLogger(e.logger),
		pool.WithWaitTimeout(time.Second),
		pool.WithCallbacks(observe.Chain{
			observe.NewLogging(e.logger, name),
			e.metrics.For(name),
		}),
	}
	factory := pooled.Factory(pooled.WithCodec(typ))

	var p bufferPool
	workers := e.workers
	switch kind {
	case "local":
		p = pool.NewLocalPool(factory, opts...)
		workers = 1
	case "sync":
		sp := pool.NewSyncPool(factory, opts...)
		defer sp.Shutdown()
		p = sp
	case "lockfree":
		lp := pool.NewLockFreePool(factory, opts...)
		defer lp.Wait()
		p = lp
	default:
		return pool.Stats{}, pooled.ShelfStats{}, errors.Errorf("unknown pool kind %q", kind)
	}

	shelf := pooled.NewShelf()
	chunk := bytes.Repeat([]byte("memstress "), max(payload, 1)/10+1)[:max(payload, 1)]
	parked := make([]int, workers)
	err := e.parallel(ctx, workers, func(w, _ int) error {
		key := strconv.Itoa(w)
		if parked[w] > 0 {
			if err := takeParked(shelf, key, chunk[:parked[w]]); err != nil {
				return err
			}
			parked[w] = 0
		}

		h, err := p.Get()
		if errors.Is(err, arena.ErrPoolExhausted) || errors.Is(err, arena.ErrTimeout) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "get pooled buffer")
		}
		n := rand.IntN(len(chunk)) + 1
		if _, err := h.Value().Write(chunk[:n]); err != nil {
			h.Release()
			return err
		}
		shelf.Park(key, h)
		parked[w] = n
		return nil
	})
	if err != nil {
		shelf.ReleaseAll()
		return pool.Stats{}, pooled.ShelfStats{}, err
	}
	for w, n := range parked {
		if n == 0 {
			continue
		}
		if err := takeParked(shelf, strconv.Itoa(w), chunk[:n]); err != nil {
			return pool.Stats{}, pooled.ShelfStats{}, err
		}
	}
	if p.Available() > p.Live() {
		return pool.Stats{}, pooled.ShelfStats{}, errors.Errorf("pool holds %d idle values but only %d live", p.Available(), p.Live())
	}
	return p.Stats(), shelf.Stats(), nil
}

// takeParked checks a parked buffer out of the shelf, compares its payload
// and returns it to the pool.
func takeParked(shelf *pooled.Shelf, key string, want []byte) error {
	h, err := shelf.Take(key)
	if err != nil {
		return errors.Wrap(err, "take parked buffer")
	}
	defer h.Release()
	got, err := h.Value().Bytes()
	if err != nil {
		return errors.Wrap(err, "unpack parked buffer")
	}
	if !bytes.Equal(got, want) {
		return errors.Errorf("parked payload under %s changed: %d bytes, want %d", key, len(got), len(want))
	}
	return nil
}

func stackCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stack",
		Usage: "allocate and pop on a shared stack allocator",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "capacity", Value: 1 << 20, Usage: "stack size in bytes"},
		},
		Action: func(c *cli.Context) error {
			st, err := e.runStack(c.Context, c.Int("capacity"))
			if err != nil {
				return err
			}
			e.logStats("memstress_stack", st)
			return nil
		},
	}
}

func (e *env) runStack(ctx context.Context, capacity int) (arena.Stats, error) {
	s := arena.NewStackAllocator(capacity, arena.WithStackStatistics())
	defer s.Release()

	err := e.parallel(ctx, e.workers, func(_, i int) error {
		size := uintptr(8 + i%56)
		p, err := s.Allocate(size, 8)
		if errors.Is(err, arena.ErrOutOfMemory) {
			s.Reset()
			return nil
		}
		if err != nil {
			return err
		}
		s.TryPop(p, size, 8)
		return nil
	})
	if err != nil {
		return arena.Stats{}, err
	}

	// frames nest and unwind in order
	s.Reset()
	err = s.WithFrame(func() error {
		if _, err := s.Allocate(64, 8); err != nil {
			return err
		}
		return s.WithFrame(func() error {
			_, err := s.Allocate(128, 16)
			return err
		})
	})
	if err != nil {
		return arena.Stats{}, errors.Wrap(err, "stack frames")
	}
	if s.Used() != 0 {
		return arena.Stats{}, errors.Errorf("stack not empty after frames: %d bytes", s.Used())
	}
	return s.Stats(), nil
}

func arenaCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "arena",
		Usage: "fill pooled bump arenas and a shared concurrent arena",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-total", Value: 64 << 20, Usage: "max bytes per arena"},
		},
		Action: func(c *cli.Context) error {
			st, err := e.runArena(c.Context, c.Int("max-total"))
			if err != nil {
				return err
			}
			e.logStats("memstress_arena", st)
			return nil
		},
	}
}

type record struct {
	ID    uint64
	Score float64
	Flags [4]uint32
}

func (e *env) runArena(ctx context.Context, maxTotal int) (arena.Stats, error) {
	arenas := arena.NewArenaPool(arena.WithMaxTotalSize(maxTotal))
	shared := arena.NewBumpArena(arena.WithMaxTotalSize(maxTotal))
	concurrent := arena.NewConcurrentAllocator(shared)

	err := e.parallel(ctx, e.workers, func(worker, i int) error {
		item := arenas.Acquire(uint64(worker))
		defer arenas.Release(item)

		a := item.Arena
		start := a.CurrentPosition()
		rec, err := arena.AllocateValue(a, record{ID: uint64(i)})
		if err != nil {
			return err
		}
		ids, err := arena.MakeSlice[uint64](a, 0, 8)
		if err != nil {
			return err
		}
		for j := 0; j < 32; j++ {
			if ids, err = arena.SliceAppend(a, ids, rec.ID+uint64(j)); err != nil {
				return err
			}
		}
		buf := arena.NewBuffer(a)
		if _, err := buf.WriteString("memstress"); err != nil {
			return err
		}
		if err := a.RestoreToPosition(start); err != nil && !errors.Is(err, arena.ErrInvalidArgument) {
			return err
		}

		// allocate or start over without another worker slipping in between
		return concurrent.Locked(func(inner arena.Allocator) error {
			_, err := arena.AllocateValue(inner, rec.ID)
			if errors.Is(err, arena.ErrOutOfMemory) {
				inner.Reset()
				return nil
			}
			return err
		})
	})
	if err != nil {
		return arena.Stats{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"action":      "memstress_arena_pool",
		"idle_arenas": arenas.Idle(),
		"record_size": unsafe.Sizeof(record{}),
	}).Debug("arena pool drained")
	return concurrent.Stats(), nil
}

func asyncCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "async",
		Usage: "share an async arena between workers",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: time.Second, Usage: "per operation timeout"},
		},
		Action: func(c *cli.Context) error {
			st, err := e.runAsync(c.Context, c.Duration("timeout"))
			if err != nil {
				return err
			}
			e.logStats("memstress_async", st)
			return nil
		},
	}
}

func (e *env) runAsync(ctx context.Context, timeout time.Duration) (arena.Stats, error) {
	a := asyncarena.New(ctx, asyncarena.WithTimeout(timeout), asyncarena.WithLogger(e.logger))

	counter, err := asyncarena.Alloc(ctx, a, int64(0))
	if err != nil {
		return arena.Stats{}, errors.Wrap(err, "alloc counter")
	}
	err = e.parallel(ctx, e.workers, func(_, i int) error {
		h, err := asyncarena.Alloc(ctx, a, record{ID: uint64(i)})
		if err != nil {
			return err
		}
		defer h.Release()
		if err := h.Modify(ctx, func(r *record) { r.Score = float64(r.ID) / 2 }); err != nil {
			return err
		}
		return counter.Modify(ctx, func(v *int64) { *v++ })
	})
	if err != nil {
		return arena.Stats{}, err
	}

	total, err := counter.Peek(ctx)
	if err != nil {
		return arena.Stats{}, err
	}
	if want := int64(e.workers * e.iterations); total != want {
		return arena.Stats{}, errors.Errorf("counter is %d, expected %d", total, want)
	}
	st, err := a.Stats(ctx)
	if err != nil {
		return arena.Stats{}, err
	}
	counter.Release()
	return st, a.Reset(ctx)
}

// parallel runs fn iterations times on each of workers goroutines and stops
// at the first error or when ctx is done.
func (e *env) parallel(ctx context.Context, workers int, fn func(worker, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < e.iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(w, i); err != nil {
					return errors.Wrapf(err, "worker %d iteration %d", w, i)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *env) logStats(action string, st arena.Stats) {
	e.logger.WithFields(logrus.Fields{
		"action":        action,
		"allocations":   st.Allocations,
		"deallocations": st.Deallocations,
		"failed":        st.FailedAllocations,
		"bytes":         st.BytesAllocated,
		"peak_bytes":    st.PeakBytes,
		"current_bytes": st.CurrentBytes,
		"chunks":        st.Chunks,
	}).Info("run finished")
}
