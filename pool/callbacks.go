// SPDX-License-Identifier: Apache-2.0

package pool

// Callbacks observes the lifecycle of pooled values. Pools never hold a lock
// while invoking a callback.
type Callbacks interface {
	OnCreate(v Poolable)
	OnDestroy(v Poolable)
	OnCheckout(v Poolable)
	OnCheckin(v Poolable)
}

// NopCallbacks ignores every event.
type NopCallbacks struct{}

func (NopCallbacks) OnCreate(Poolable)   {}
func (NopCallbacks) OnDestroy(Poolable)  {}
func (NopCallbacks) OnCheckout(Poolable) {}
func (NopCallbacks) OnCheckin(Poolable)  {}

// CallbackFuncs adapts plain functions to Callbacks. Nil fields are skipped.
type CallbackFuncs struct {
	Create   func(v Poolable)
	Destroy  func(v Poolable)
	Checkout func(v Poolable)
	Checkin  func(v Poolable)
}

func (f CallbackFuncs) OnCreate(v Poolable) {
	if f.Create != nil {
		f.Create(v)
	}
}

func (f CallbackFuncs) OnDestroy(v Poolable) {
	if f.Destroy != nil {
		f.Destroy(v)
	}
}

func (f CallbackFuncs) OnCheckout(v Poolable) {
	if f.Checkout != nil {
		f.Checkout(v)
	}
}

func (f CallbackFuncs) OnCheckin(v Poolable) {
	if f.Checkin != nil {
		f.Checkin(v)
	}
}
