// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	arena "github.com/wundergraph/go-memkit"
)

func TestLocalPoolReuse(t *testing.T) {
	p := NewLocalPool(newTestObject, WithMaxCapacity(10))

	h, err := p.Get()
	require.NoError(t, err)
	h.Value().field = 42
	h.Release()

	h, err = p.Get()
	require.NoError(t, err)
	require.Equal(t, 0, h.Value().field)

	st := p.Stats()
	require.Equal(t, uint64(1), st.Hits)
	require.Equal(t, uint64(1), st.Misses)
	require.Equal(t, uint64(2), st.Gets)
	require.Equal(t, uint64(1), st.Creations)
}

func TestLocalPoolGetReleaseCycle(t *testing.T) {
	p := NewLocalPool(newTestObject, WithInitialCapacity(3), WithPreWarm(true))
	require.Equal(t, 3, p.Available())
	require.Equal(t, uint64(3), p.Stats().Creations)

	before := p.Stats()
	h, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, 2, p.Available())
	h.Release()
	require.Equal(t, 3, p.Available())

	after := p.Stats()
	require.Equal(t, before.Gets+1, after.Gets)
	require.Equal(t, before.Returns+1, after.Returns)

	// releasing twice has no effect
	h.Release()
	require.Equal(t, 3, p.Available())
	require.Nil(t, h.Value())
}

func TestLocalPoolBounded(t *testing.T) {
	p := NewLocalPool(newTestObject, WithMaxCapacity(2))

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)

	_, err = p.Get()
	require.ErrorIs(t, err, arena.ErrPoolExhausted)
	require.Equal(t, arena.KindPoolExhausted, arena.KindOf(err))

	a.Release()
	c, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, 2, p.Live())
	require.LessOrEqual(t, p.Available(), 2)

	b.Release()
	c.Release()
	require.Equal(t, 2, p.Available())
	require.Equal(t, 0, p.Reserve(5))
}

func TestLocalPoolZeroCapacity(t *testing.T) {
	p := NewLocalPool(newTestObject, WithMaxCapacity(0), WithInitialCapacity(4), WithPreWarm(true))
	require.Equal(t, 0, p.Available())

	_, err := p.Get()
	require.ErrorIs(t, err, arena.ErrPoolExhausted)
	_, ok := p.TryGet()
	require.False(t, ok)

	// a value checked in from outside the accounting is destroyed
	p.checkin(newTestObject())
	require.Equal(t, 0, p.Available())
	require.Equal(t, uint64(1), p.Stats().Destructions)
}

func TestLocalPoolDetach(t *testing.T) {
	p := NewLocalPool(newTestObject, WithMaxCapacity(1))

	h, err := p.Get()
	require.NoError(t, err)
	v := h.Detach()
	require.NotNil(t, v)
	require.Equal(t, 0, p.Available())
	require.Equal(t, 0, p.Live())

	// detached handles no longer return
	h.Release()
	require.Equal(t, 0, p.Available())
	require.Nil(t, h.Detach())

	// the slot is free again
	_, err = p.Get()
	require.NoError(t, err)
}

func TestLocalPoolValidation(t *testing.T) {
	var destroyed []Poolable
	cb := CallbackFuncs{Destroy: func(v Poolable) { destroyed = append(destroyed, v) }}
	p := NewLocalPool(newTestObject, WithCallbacks(cb))

	h, err := p.Get()
	require.NoError(t, err)
	broken := h.Value()
	broken.broken = true
	h.Release()
	require.Equal(t, 0, p.Available())
	require.Equal(t, []Poolable{broken}, destroyed)

	h, err = p.Get()
	require.NoError(t, err)
	h.Value().field = -1
	h.Release()
	require.Equal(t, 0, p.Available())
	require.Len(t, destroyed, 2)

	p = NewLocalPool(newTestObject, WithValidateOnReturn(false))
	h, err = p.Get()
	require.NoError(t, err)
	h.Value().broken = true
	h.Release()
	require.Equal(t, 1, p.Available())
}

func TestLocalPoolCallbacks(t *testing.T) {
	var created, checkouts, checkins int
	cb := CallbackFuncs{
		Create:   func(Poolable) { created++ },
		Checkout: func(Poolable) { checkouts++ },
		Checkin:  func(Poolable) { checkins++ },
	}
	p := NewLocalPool(newTestObject, WithCallbacks(cb))

	h, err := p.Get()
	require.NoError(t, err)
	h.Release()
	h, err = p.Get()
	require.NoError(t, err)
	h.Release()

	require.Equal(t, 1, created)
	require.Equal(t, 1, checkouts)
	require.Equal(t, 2, checkins)
}

func TestLocalPoolTryGet(t *testing.T) {
	p := NewLocalPool(newTestObject)

	_, ok := p.TryGet()
	require.False(t, ok)
	require.Equal(t, uint64(0), p.Stats().Creations)

	require.Equal(t, 1, p.Reserve(1))
	h, ok := p.TryGet()
	require.True(t, ok)
	require.Equal(t, 1, h.Value().resets)
}

func TestLocalPoolShrinkAndClear(t *testing.T) {
	p := NewLocalPool(newTestObject)
	require.Equal(t, 5, p.Reserve(5))

	p.ShrinkTo(2)
	require.Equal(t, 2, p.Available())
	require.Equal(t, 2, p.Live())

	p.Clear()
	require.Equal(t, 0, p.Available())
	st := p.Stats()
	require.Equal(t, uint64(5), st.Destructions)
	require.Equal(t, uint64(1), st.Clears)
}

func TestLocalPoolPressureCompression(t *testing.T) {
	p := NewLocalPool(newTestObject, WithMaxCapacity(4), WithPressureThreshold(50))

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)

	a.Release()
	require.Equal(t, uint64(0), p.Stats().CompressionAttempts)

	b.Release()
	st := p.Stats()
	require.Equal(t, uint64(2), st.CompressionAttempts)
	require.Equal(t, uint64(2*testPayloadCap), st.BytesSaved)

	// nothing left to save
	require.Equal(t, 0, p.OptimizeMemory())
}

func TestLocalPoolOptimizeMemorySkipsPlainValues(t *testing.T) {
	p := NewLocalPool(func() *plainObject { return &plainObject{} })
	p.Reserve(3)
	require.Equal(t, 0, p.OptimizeMemory())
	require.Equal(t, uint64(0), p.Stats().CompressionAttempts)
}

func TestLocalPoolStatisticsDisabled(t *testing.T) {
	p := NewLocalPool(newTestObject, WithStatistics(false), WithName("scratch"))
	h, err := p.Get()
	require.NoError(t, err)
	h.Release()

	require.Equal(t, Stats{}, p.Stats())
	require.Equal(t, "scratch", p.Name())
}

func BenchmarkLocalPoolGetRelease(b *testing.B) {
	p := NewLocalPool(newTestObject)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := p.Get()
		if err != nil {
			b.Fatal(err)
		}
		h.Release()
	}
}

func TestLocalPoolFactoryPanicFreesSlot(t *testing.T) {
	calls := 0
	p := NewLocalPool(func() *testObject {
		calls++
		if calls == 1 {
			panic("factory failed")
		}
		return newTestObject()
	}, WithMaxCapacity(1))

	require.Panics(t, func() { _, _ = p.Get() })
	require.Equal(t, 0, p.Live())

	h, err := p.Get()
	require.NoError(t, err)
	h.Release()
	require.Equal(t, 1, p.Available())
}
