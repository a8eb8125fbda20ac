// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"net"
	"time"
)

// Frame is one complete application-level media unit: an encoded image
// or a serialized point cloud.
//
// A Frame is immutable once constructed. Ownership moves from the
// receive goroutine to the [*Handoff] and then to the consumer; none of
// them may modify Payload after the Frame has been handed over.
type Frame struct {
	// Payload contains the opaque frame bytes.
	Payload []byte

	// ReceivedAt is when the last byte of the frame arrived.
	ReceivedAt time.Time

	// SentAt is the optional sender-side timestamp (zero when the
	// transport does not carry one).
	SentAt time.Time

	// Seq is a per-session delivery counter assigned by the sink.
	Seq uint64

	// FrameID is the datagram frame identifier (zero on the stream path).
	FrameID uint32

	// Network is the transport the frame arrived on ("tcp" or "udp").
	Network string
}

// Age returns how long ago the frame was received according to now.
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.ReceivedAt)
}

// TransitDelay returns the one-way delay between SentAt and ReceivedAt.
//
// The boolean is false when the frame carries no sender timestamp. The
// value is only meaningful when both clocks are synchronized.
func (f *Frame) TransitDelay() (time.Duration, bool) {
	if f.SentAt.IsZero() {
		return 0, false
	}
	return f.ReceivedAt.Sub(f.SentAt), true
}

// FrameSink receives completed frames from a frame source.
//
// Implementations must not block: the receive goroutine calls Push
// between two reads of the underlying channel.
type FrameSink interface {
	Push(frame *Frame)
}

// FrameSinkFunc adapts a function to the [FrameSink] interface.
type FrameSinkFunc func(frame *Frame)

var _ FrameSink = FrameSinkFunc(nil)

// Push implements [FrameSink].
func (f FrameSinkFunc) Push(frame *Frame) {
	f(frame)
}

// FrameSource turns a connected channel into frames.
//
// Run blocks until ctx is done or the channel fails, pushing every
// complete frame into sink. It returns the error that terminated the
// connection, which is never nil: a clean peer close is reported as
// [ErrConnectionClosed]. Run does not close conn.
type FrameSource interface {
	Run(ctx context.Context, conn net.Conn, sink FrameSink) error
}
