// SPDX-License-Identifier: GPL-3.0-or-later

// Package rtframe receives real-time media frames from a camera producer
// and hands the latest one to a consumer running at its own rate.
//
// # Channels
//
// A producer exposes up to three channels:
//
//   - a TCP frame channel carrying length-prefixed frames, read by
//     [*StreamReader] and [*StreamSource], optionally preceded by a
//     field-of-view preamble ([FieldOfView]) and carrying a sender
//     timestamp before each frame
//   - a UDP frame channel carrying frames split into chunk datagrams,
//     rebuilt by [*Reassembler] and [*DatagramSource] after the receiver
//     registers with a rendezvous datagram
//   - a UDP latency channel, where a [*LatencyProbe] echoes the peer's
//     probes and measures round trips into a [*LatencyWindow]
//
// [*StreamWriter], [SplitFrame] and [MarshalPointCloud] implement the
// producer side of the same formats.
//
// # Sessions
//
// A [*Session] owns the channels of one producer. It connects, receives,
// reports transport faults and reconnects according to its
// [SessionConfig], moving through the [ConnectionState] values. Received
// frames go through a latest-wins [*Handoff]: the receive goroutine never
// blocks on the consumer, and the consumer polls
// [*Session.TryGetLatestFrame] without blocking on the network.
//
// The frame channel is opened by a pipeline of composable [Func] steps:
// [NewEndpointFunc], [*ConnectFunc], [*MarkTrafficFunc],
// [*ObserveConnFunc] and [*CancelWatchFunc]. The same steps can be
// composed with [Compose2] and [Compose3] to build custom receivers.
//
// # Errors
//
// Transport faults map onto sentinel errors ([ErrConnectTimeout],
// [ErrConnectionRefused], [ErrConnectionClosed], [ErrTruncatedFrame],
// [ErrOversizedFrame], [ErrChannelIO]) matched with [errors.Is]. The
// underlying error stays reachable in the chain. Malformed and stale
// datagrams are counted in [ReassemblerStats] and never stop a session.
//
// # Observability
//
// All components log through [SLogger], which [*slog.Logger] satisfies.
// Logging is disabled by default. Lifecycle events use [slog.LevelInfo];
// per-I/O and per-datagram events use [slog.LevelDebug]. Completion
// events carry t0, t, err and errClass, classified by [ErrClassifier].
// Every connection attempt gets a span ID ([NewSpanID]) so that its
// events can be correlated.
package rtframe
