// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

// SessionStats is a snapshot of the [*Session] counters.
//
// Counters accumulate across reconnects and reset on [*Session.Start].
type SessionStats struct {
	// State is the current connection state.
	State ConnectionState

	// ConnectAttempts counts connection attempts.
	ConnectAttempts uint64

	// Connects counts attempts that reached [Connected].
	Connects uint64

	// Faults counts transitions to [Faulted].
	Faults uint64

	// LastFault is the taxonomy label of the most recent fault.
	LastFault string

	// Frames counts complete frames handed to the consumer side.
	Frames uint64

	// Handoff holds the consumer handoff counters.
	Handoff HandoffStats

	// Datagram holds the chunked channel counters (zero on the stream path).
	Datagram DatagramStats

	// IO holds the frame channel traffic totals.
	IO IOStats

	// Probe holds the latency probe counters of the current probe.
	Probe ProbeStats
}
