// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"fmt"
)

// Kind classifies the failures reported by allocators, pools and the async arena.
type Kind uint8

const (
	// KindInvalidLayout reports a size/alignment combination that cannot be served,
	// for example a non power-of-two alignment.
	KindInvalidLayout Kind = iota + 1
	// KindOutOfMemory reports an exhausted backing buffer or a reached growth cap.
	KindOutOfMemory
	// KindPoolExhausted reports a bounded pool at capacity with no idle object.
	KindPoolExhausted
	// KindPoolShutdown reports an operation issued on a shut down pool or arena.
	KindPoolShutdown
	// KindInvalidArgument reports misuse of markers and positions.
	KindInvalidArgument
	// KindTimeout reports an operation that did not complete within its deadline.
	KindTimeout
	// KindCancelled reports an operation whose caller context was cancelled.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidLayout:
		return "invalid layout"
	case KindOutOfMemory:
		return "out of memory"
	case KindPoolExhausted:
		return "pool exhausted"
	case KindPoolShutdown:
		return "shut down"
	case KindInvalidArgument:
		return "invalid argument"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Error is the structured error returned by every fallible operation of this module.
// Size and Align are set for allocation failures.
type Error struct {
	Kind  Kind
	Op    string
	Size  uintptr
	Align uintptr
	Msg   string
}

func (e *Error) Error() string {
	s := "arena: "
	if e.Op != "" {
		s += e.Op + ": "
	}
	s += e.Kind.String()
	if e.Kind == KindOutOfMemory || e.Kind == KindInvalidLayout {
		s += fmt.Sprintf(" (size=%d align=%d)", e.Size, e.Align)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, ErrOutOfMemory) matches any out of memory failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidLayout   = &Error{Kind: KindInvalidLayout}
	ErrOutOfMemory     = &Error{Kind: KindOutOfMemory}
	ErrPoolExhausted   = &Error{Kind: KindPoolExhausted}
	ErrPoolShutdown    = &Error{Kind: KindPoolShutdown}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrCancelled       = &Error{Kind: KindCancelled}
)

// NewError builds an *Error of the given kind for operation op.
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func outOfMemory(op string, size, align uintptr) *Error {
	return &Error{Kind: KindOutOfMemory, Op: op, Size: size, Align: align}
}

func invalidLayout(op string, size, align uintptr, msg string) *Error {
	return &Error{Kind: KindInvalidLayout, Op: op, Size: size, Align: align, Msg: msg}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
