// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import "fmt"

// ConnectionState is the lifecycle state of a [*Session].
//
// The transitions are:
//
//	Disconnected -> Connecting -> Connected -> Faulted | Disconnected
//	Connecting -> Faulted
//	Faulted | Disconnected -> Connecting (after the reconnect delay)
type ConnectionState int32

const (
	// Disconnected means no channel is open and none is being opened.
	Disconnected ConnectionState = iota

	// Connecting means a connection attempt is in progress.
	Connecting

	// Connected means the channel is open and frames may arrive.
	Connected

	// Faulted means the last connection attempt or channel failed.
	Faulted
)

// String implements [fmt.Stringer].
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Faulted:
		return "Faulted"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// MarshalText implements [encoding.TextMarshaler], so that JSON status
// reports carry the state name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
