// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import "github.com/bassosimone/errclass"

// ErrClassifier maps errors to short labels (e.g., "ETIMEDOUT") that
// end up in the errClass field of log events.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using [errclass.New]: nil maps
// to the empty string and unknown errors map to [errclass.EGENERIC].
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)
