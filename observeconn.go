//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package rtframe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// IOCounters accumulates the traffic of every channel observed by an
// [*ObserveConnFunc]. It is safe for concurrent use.
type IOCounters struct {
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	reads        atomic.Uint64
	writes       atomic.Uint64
}

// IOStats is a snapshot of [*IOCounters].
type IOStats struct {
	BytesRead    uint64
	BytesWritten uint64
	Reads        uint64
	Writes       uint64
}

// Snapshot returns the current counter values.
func (c *IOCounters) Snapshot() IOStats {
	return IOStats{
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
		Reads:        c.reads.Load(),
		Writes:       c.writes.Load(),
	}
}

// addRead records a read of count bytes. A nil receiver ignores it.
func (c *IOCounters) addRead(count int) {
	if c == nil || count <= 0 {
		return
	}
	c.bytesRead.Add(uint64(count))
	c.reads.Add(1)
}

// addWrite records a write of count bytes. A nil receiver ignores it.
func (c *IOCounters) addWrite(count int) {
	if c == nil || count <= 0 {
		return
	}
	c.bytesWritten.Add(uint64(count))
	c.writes.Add(1)
}

// NewObserveConnFunc returns a new [*ObserveConnFunc].
//
// The cfg argument contains the common configuration.
//
// The counters argument receives the traffic of every observed channel.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewObserveConnFunc(cfg *Config, counters *IOCounters, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		Counters:      counters,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a channel to count its traffic and log its I/O.
//
// Reads and writes are logged at Debug level, which at 30 frames per
// second is verbose; close is logged at Info level.
type ObserveConnFunc struct {
	// Counters receives the traffic totals.
	//
	// Set by [NewObserveConnFunc] to the user-provided counters.
	Counters *IOCounters

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewObserveConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow returns the current time (configurable for testing).
	//
	// Set by [NewObserveConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call wraps conn. It never fails.
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	observed := &observedConn{
		Conn:     conn,
		laddr:    safeconn.LocalAddr(conn),
		op:       op,
		protocol: safeconn.Network(conn),
		raddr:    safeconn.RemoteAddr(conn),
	}
	return observed, nil
}

// observedConn observes a [net.Conn]. Deadline setters pass through.
type observedConn struct {
	net.Conn
	closeonce sync.Once
	laddr     string
	op        *ObserveConnFunc
	protocol  string
	raddr     string
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed].
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		err = c.Conn.Close()
		c.op.Logger.Info(
			"closeDone",
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t0", t0),
			slog.Time("t", c.op.TimeNow()),
		)
	})
	return
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.op.TimeNow()
	count, err := c.Conn.Read(buf)
	c.op.Counters.addRead(count)
	c.logIO("readDone", t0, len(buf), count, err)
	return count, err
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.op.TimeNow()
	count, err := c.Conn.Write(data)
	c.op.Counters.addWrite(count)
	c.logIO("writeDone", t0, len(data), count, err)
	return count, err
}

func (c *observedConn) logIO(event string, t0 time.Time, size, count int, err error) {
	c.op.Logger.Debug(
		event,
		slog.Int("ioBufferSize", size),
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)
}
