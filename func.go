// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import "context"

// Func is a single step of a connection pipeline: it takes an input and
// either succeeds with an output or fails with an error, never both.
//
// Steps are chained with [Compose2] and [Compose3]; the compiler checks
// that each output type matches the next input type.
//
// When a Func receives a closeable resource and fails, it closes the
// resource before returning, so that a failing pipeline never leaks.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func].
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
