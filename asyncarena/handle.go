// SPDX-License-Identifier: Apache-2.0

package asyncarena

import (
	"context"
	"time"

	"github.com/pkg/errors"

	arena "github.com/wundergraph/go-memkit"
)

// Handle refers to a value allocated in an AsyncArena. Access goes through
// the arena lock. The handle keeps the arena reachable until it is released.
type Handle[T any] struct {
	ptr   *T
	arena *AsyncArena
}

func (h *Handle[T]) released(op string) error {
	if h.ptr != nil {
		return nil
	}
	return errors.WithStack(arena.NewError(arena.KindInvalidArgument, op, "handle released"))
}

// Read passes a copy of the value to fn under the shared lock.
func (h *Handle[T]) Read(ctx context.Context, fn func(v T)) error {
	if err := h.released("read"); err != nil {
		return err
	}
	return h.read(ctx, h.arena.timeout, fn)
}

// TryRead is Read bounded by timeout instead of the arena default.
func (h *Handle[T]) TryRead(fn func(v T), timeout time.Duration) error {
	if err := h.released("read"); err != nil {
		return err
	}
	return h.read(context.Background(), timeout, fn)
}

func (h *Handle[T]) read(ctx context.Context, timeout time.Duration, fn func(v T)) error {
	return h.arena.read(ctx, "read", timeout, true, func() error {
		fn(*h.ptr)
		return nil
	})
}

// Modify passes the value to fn under the exclusive lock.
func (h *Handle[T]) Modify(ctx context.Context, fn func(v *T)) error {
	if err := h.released("modify"); err != nil {
		return err
	}
	return h.modify(ctx, h.arena.timeout, fn)
}

// TryModify is Modify bounded by timeout instead of the arena default.
func (h *Handle[T]) TryModify(fn func(v *T), timeout time.Duration) error {
	if err := h.released("modify"); err != nil {
		return err
	}
	return h.modify(context.Background(), timeout, fn)
}

func (h *Handle[T]) modify(ctx context.Context, timeout time.Duration, fn func(v *T)) error {
	return h.arena.write(ctx, "modify", timeout, func() error {
		fn(h.ptr)
		return nil
	})
}

// Peek returns a copy of the value under the shared lock. Unlike Read it
// keeps working after shutdown.
func (h *Handle[T]) Peek(ctx context.Context) (T, error) {
	var v T
	if err := h.released("peek"); err != nil {
		return v, err
	}
	err := h.arena.read(ctx, "peek", h.arena.timeout, false, func() error {
		v = *h.ptr
		return nil
	})
	return v, err
}

// Release drops the handle's reference to the value. Later calls fail with
// ErrInvalidArgument. Release is idempotent.
func (h *Handle[T]) Release() {
	h.ptr = nil
	h.arena = nil
}
