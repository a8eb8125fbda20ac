// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bassosimone/errclass"
)

// Transport errors. All of them terminate only the current connection
// attempt: the [*Session] moves to [Faulted] and, when auto-reconnect is
// enabled, tries again after the reconnect delay.
var (
	// ErrConnectTimeout indicates the channel was not established within
	// the connect timeout.
	ErrConnectTimeout = errors.New("rtframe: connect timeout")

	// ErrConnectionRefused indicates the peer actively refused the connection.
	ErrConnectionRefused = errors.New("rtframe: connection refused")

	// ErrConnectionClosed indicates the peer closed the channel cleanly
	// between two frames.
	ErrConnectionClosed = errors.New("rtframe: connection closed by peer")

	// ErrTruncatedFrame indicates the channel closed in the middle of a
	// length-prefixed frame (header or payload).
	ErrTruncatedFrame = errors.New("rtframe: truncated frame")

	// ErrOversizedFrame indicates a declared length above the configured
	// maximum, which we treat as protocol desync.
	ErrOversizedFrame = errors.New("rtframe: oversized frame")

	// ErrZeroLengthFrame indicates a declared length of zero, which we
	// also treat as protocol desync.
	ErrZeroLengthFrame = errors.New("rtframe: zero-length frame")

	// ErrChannelIO is a generic transport fault.
	ErrChannelIO = errors.New("rtframe: channel I/O error")
)

// Datagram errors. They are counted and otherwise ignored.
var (
	// ErrMalformedDatagram indicates a datagram shorter than the chunk
	// header or carrying an impossible chunk index or count.
	ErrMalformedDatagram = errors.New("rtframe: malformed datagram")

	// ErrStaleDatagram indicates a datagram for a frame id at or below
	// the last completed one.
	ErrStaleDatagram = errors.New("rtframe: stale datagram")
)

// Lifecycle errors.
var (
	// ErrAlreadyStarted is returned by [*Session.Start] when running.
	ErrAlreadyStarted = errors.New("rtframe: session already started")

	// ErrStopTimeout is returned by [*Session.Stop] when the receive
	// goroutine did not exit within the stop timeout.
	ErrStopTimeout = errors.New("rtframe: stop timeout")

	// ErrInvalidConfig wraps [SessionConfig] validation failures.
	ErrInvalidConfig = errors.New("rtframe: invalid config")

	// ErrFrameTooLarge is returned by producer-side encoders when the
	// payload cannot be represented on the wire.
	ErrFrameTooLarge = errors.New("rtframe: frame too large for wire format")
)

// classifyConnectError maps a dial error onto the connect taxonomy while
// keeping the original error reachable through [errors.Is].
func classifyConnectError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	case isConnRefused(err):
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	default:
		return fmt.Errorf("%w: %w", ErrChannelIO, err)
	}
}

// classifyChannelError maps an error returned by a frame source onto
// the transport taxonomy. Errors that already belong to it pass through.
func classifyChannelError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrTruncatedFrame),
		errors.Is(err, ErrOversizedFrame),
		errors.Is(err, ErrZeroLengthFrame),
		errors.Is(err, ErrChannelIO),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, net.ErrClosed), isConnReset(err):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	case isConnRefused(err):
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	default:
		return fmt.Errorf("%w: %w", ErrChannelIO, err)
	}
}

// faultKind returns a short label for err within the transport taxonomy,
// used as the "fault" field of log events.
func faultKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectTimeout):
		return "ConnectTimeout"
	case errors.Is(err, ErrConnectionRefused):
		return "ConnectionRefused"
	case errors.Is(err, ErrConnectionClosed):
		return "ConnectionClosedByPeer"
	case errors.Is(err, ErrTruncatedFrame):
		return "TruncatedFrame"
	case errors.Is(err, ErrOversizedFrame), errors.Is(err, ErrZeroLengthFrame):
		return "OversizedFrame"
	case errors.Is(err, ErrMalformedDatagram):
		return "MalformedDatagram"
	case errors.Is(err, ErrStaleDatagram):
		return "StaleDatagram"
	default:
		return "ChannelIOError"
	}
}

// isConnRefused reports whether the peer refused us. On a connected UDP
// socket this is how an ICMP port unreachable surfaces.
func isConnRefused(err error) bool {
	return errclass.New(err) == errclass.ECONNREFUSED
}

// isConnReset reports whether the peer reset or aborted the connection.
func isConnReset(err error) bool {
	switch errclass.New(err) {
	case errclass.ECONNRESET, errclass.ECONNABORTED:
		return true
	default:
		return false
	}
}

// isTimeout reports whether err is an errno or deadline timeout, or a
// [net.Error] that says so.
func isTimeout(err error) bool {
	if errclass.New(err) == errclass.ETIMEDOUT {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
