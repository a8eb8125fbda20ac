// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

// Unit is the input of a [Func] that needs no argument, such as the
// first step of a connection pipeline.
type Unit struct{}
