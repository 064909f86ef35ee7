// SPDX-License-Identifier: Apache-2.0

// Package asyncarena shares a bump arena between goroutines. Every operation
// takes a context, is bounded by a default timeout and fails once the
// arena's shutdown context is done.
//
// Values are accessed through handles. A handle is only valid until the next
// Reset; callers must stop using handles before resetting the arena.
package asyncarena

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	arena "github.com/wundergraph/go-memkit"
)

const defaultTimeout = 5 * time.Second

// AsyncArena is a BumpArena behind a context-aware read/write lock.
type AsyncArena struct {
	id       uuid.UUID
	shutdown context.Context
	timeout  time.Duration
	logger   logrus.FieldLogger

	lock  *rwLock
	inner *arena.BumpArena

	capacity  int
	arenaOpts []arena.BumpArenaOption
}

// Option configures an AsyncArena.
type Option func(*AsyncArena)

// WithCapacity sets the size of the first arena chunk in bytes.
func WithCapacity(n int) Option {
	return func(a *AsyncArena) {
		a.capacity = max(n, 0)
	}
}

// WithTimeout sets the default bound of every operation.
func WithTimeout(d time.Duration) Option {
	return func(a *AsyncArena) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *AsyncArena) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithArenaOptions passes options to the inner BumpArena. WithCapacity
// takes precedence over an initial size given here.
func WithArenaOptions(opts ...arena.BumpArenaOption) Option {
	return func(a *AsyncArena) {
		a.arenaOpts = append(a.arenaOpts, opts...)
	}
}

// New creates an async arena that shuts down when shutdown is done.
func New(shutdown context.Context, opts ...Option) *AsyncArena {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	a := &AsyncArena{
		id:       uuid.New(),
		shutdown: shutdown,
		timeout:  defaultTimeout,
		logger:   logger,
		lock:     newRWLock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	arenaOpts := a.arenaOpts
	if a.capacity > 0 {
		arenaOpts = append(slices.Clone(arenaOpts), arena.WithInitialSize(a.capacity))
	}
	a.inner = arena.NewBumpArena(arenaOpts...)

	context.AfterFunc(shutdown, func() {
		a.logger.WithFields(logrus.Fields{
			"action": "async_arena_shutdown",
			"arena":  a.id.String(),
		}).Debug("async arena shut down")
	})
	return a
}

// ID identifies the arena in logs and errors.
func (a *AsyncArena) ID() uuid.UUID {
	return a.id
}

// ShutdownToken returns the context whose cancellation shuts the arena down.
func (a *AsyncArena) ShutdownToken() context.Context {
	return a.shutdown
}

// IsShutdown reports whether the shutdown context is done.
func (a *AsyncArena) IsShutdown() bool {
	return a.shutdown.Err() != nil
}

// opContext bounds ctx by the timeout and cancels it on shutdown.
func (a *AsyncArena) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	stop := context.AfterFunc(a.shutdown, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (a *AsyncArena) shutdownErr(op string) error {
	return errors.Wrapf(arena.NewError(arena.KindPoolShutdown, op, "async arena shut down"),
		"async arena %s", a.id)
}

// lockErr maps a failed lock acquisition to a shutdown, timeout or
// cancellation error.
func (a *AsyncArena) lockErr(op string, err error, watchShutdown bool) error {
	if watchShutdown && a.IsShutdown() {
		return a.shutdownErr(op)
	}
	kind := arena.KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = arena.KindTimeout
		a.logger.WithFields(logrus.Fields{
			"action": "async_arena_timeout",
			"arena":  a.id.String(),
			"op":     op,
		}).Debug("async arena operation timed out")
	}
	return errors.Wrapf(arena.NewError(kind, op, err.Error()), "async arena %s", a.id)
}

// write runs fn under the exclusive lock.
func (a *AsyncArena) write(ctx context.Context, op string, timeout time.Duration, fn func() error) error {
	if a.IsShutdown() {
		return a.shutdownErr(op)
	}
	ctx, cancel := a.opContext(ctx, timeout)
	defer cancel()

	if err := a.lock.lock(ctx); err != nil {
		return a.lockErr(op, err, true)
	}
	defer a.lock.unlock()
	if a.IsShutdown() {
		return a.shutdownErr(op)
	}
	return fn()
}

// read runs fn under the shared lock. With watchShutdown false it neither
// checks nor waits on the shutdown context.
func (a *AsyncArena) read(ctx context.Context, op string, timeout time.Duration, watchShutdown bool, fn func() error) error {
	var cancel context.CancelFunc
	if watchShutdown {
		if a.IsShutdown() {
			return a.shutdownErr(op)
		}
		ctx, cancel = a.opContext(ctx, timeout)
	} else {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	if err := a.lock.rlock(ctx); err != nil {
		return a.lockErr(op, err, watchShutdown)
	}
	defer a.lock.runlock()
	if watchShutdown && a.IsShutdown() {
		return a.shutdownErr(op)
	}
	return fn()
}

// Alloc copies v into the arena and returns a handle to it. T must not
// contain Go pointers.
func Alloc[T any](ctx context.Context, a *AsyncArena, v T) (*Handle[T], error) {
	var h *Handle[T]
	err := a.write(ctx, "alloc", a.timeout, func() error {
		p, err := arena.AllocateValue(a.inner, v)
		if err != nil {
			return errors.Wrap(err, "async arena alloc")
		}
		h = &Handle[T]{ptr: p, arena: a}
		return nil
	})
	return h, err
}

// AllocSliceCopy copies s through the arena and returns an owned copy that
// stays valid after Reset. T must not contain Go pointers.
func AllocSliceCopy[T any](ctx context.Context, a *AsyncArena, s []T) ([]T, error) {
	var out []T
	err := a.write(ctx, "alloc slice", a.timeout, func() error {
		inArena, err := arena.AllocateSlice(a.inner, s)
		if err != nil {
			return errors.Wrap(err, "async arena alloc slice")
		}
		out = slices.Clone(inArena)
		return nil
	})
	return out, err
}

// AllocString copies s through the arena and returns an owned copy that
// stays valid after Reset.
func AllocString(ctx context.Context, a *AsyncArena, s string) (string, error) {
	var out string
	err := a.write(ctx, "alloc string", a.timeout, func() error {
		inArena, err := arena.AllocateString(a.inner, s)
		if err != nil {
			return errors.Wrap(err, "async arena alloc string")
		}
		out = strings.Clone(inArena)
		return nil
	})
	return out, err
}

// Reset rewinds the inner arena. Every handle obtained before becomes
// invalid; callers must not use them afterwards.
func (a *AsyncArena) Reset(ctx context.Context) error {
	return a.write(ctx, "reset", a.timeout, func() error {
		a.inner.Reset()
		return nil
	})
}

// Stats returns the inner arena statistics.
func (a *AsyncArena) Stats(ctx context.Context) (arena.Stats, error) {
	var st arena.Stats
	err := a.read(ctx, "stats", a.timeout, true, func() error {
		st = a.inner.Stats()
		return nil
	})
	return st, err
}
