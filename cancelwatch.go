// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"net"
	"sync/atomic"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc binds a channel to the lifetime of a context: when the
// context is done, the channel is closed, which unblocks any goroutine
// waiting inside Read. This is how [*Session.Stop] interrupts a receive
// loop without waiting for the next frame or for a read deadline.
//
// Call it with the context that owns the connection, not with the
// connect timeout context, or the channel is closed as soon as the
// connect deadline expires.
type CancelWatchFunc struct{}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call registers a [context.AfterFunc] watcher closing conn. The returned
// [net.Conn] wraps conn: closing it unregisters the watcher and closes
// conn exactly once.
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	watched := &cancelWatchedConn{Conn: conn}
	watched.stop = context.AfterFunc(ctx, func() {
		watched.fired.Store(true)
		watched.closeOnce()
	})
	return watched, nil
}

// cancelWatchedConn wraps a [net.Conn] with a context cancellation watcher.
type cancelWatchedConn struct {
	net.Conn
	closed atomic.Bool
	fired  atomic.Bool
	stop   func() bool
}

// Close unregisters the watcher and closes the underlying connection.
// Later calls return [net.ErrClosed].
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.closeOnce()
}

func (c *cancelWatchedConn) closeOnce() error {
	if !c.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	return c.Conn.Close()
}

// closedByContext reports whether conn was closed by a [*CancelWatchFunc]
// watcher. The session uses it to tell a stop request from a peer fault.
func closedByContext(conn net.Conn) bool {
	watched, ok := conn.(*cancelWatchedConn)
	return ok && watched.fired.Load()
}
