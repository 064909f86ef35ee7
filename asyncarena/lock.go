// SPDX-License-Identifier: Apache-2.0

package asyncarena

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const writeWeight = 1 << 30

// rwLock is a read/write lock whose acquisition honors a context. Readers
// take one unit of the semaphore, writers take all of it. The semaphore
// serves waiters in FIFO order, so a waiting writer holds back later readers.
type rwLock struct {
	sem *semaphore.Weighted
}

func newRWLock() *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(writeWeight)}
}

func (l *rwLock) rlock(ctx context.Context) error { return l.sem.Acquire(ctx, 1) }
func (l *rwLock) runlock()                        { l.sem.Release(1) }
func (l *rwLock) lock(ctx context.Context) error  { return l.sem.Acquire(ctx, writeWeight) }
func (l *rwLock) unlock()                         { l.sem.Release(writeWeight) }
