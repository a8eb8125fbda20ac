// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"log/slog"
	"net"

	"github.com/bassosimone/safeconn"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Common DSCP values for media traffic (RFC 4594).
const (
	// DSCPRealTimeInteractive is CS4, for interactive video.
	DSCPRealTimeInteractive = 32

	// DSCPExpeditedForwarding is EF, for latency probes.
	DSCPExpeditedForwarding = 46
)

// NewMarkTrafficFunc returns a new [*MarkTrafficFunc].
//
// The cfg argument contains the common configuration.
//
// The dscp argument is the code point to set; zero makes the step a no-op.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewMarkTrafficFunc(cfg *Config, dscp int, logger SLogger) *MarkTrafficFunc {
	return &MarkTrafficFunc{DSCP: dscp, ErrClassifier: cfg.ErrClassifier, Logger: logger}
}

// MarkTrafficFunc sets the DSCP bits of a freshly dialed socket so that
// LAN equipment may prioritize media traffic.
//
// Marking is best effort: failures are logged and the connection is
// returned anyway. It must run before any wrapping step, since only the
// raw TCP and UDP sockets expose the socket options.
type MarkTrafficFunc struct {
	// DSCP is the code point (0-63).
	DSCP int

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger
}

var _ Func[net.Conn, net.Conn] = &MarkTrafficFunc{}

// Call marks conn and returns it. It never fails.
func (op *MarkTrafficFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if op.DSCP <= 0 {
		return conn, nil
	}
	var err error
	if isIPv4(conn.LocalAddr()) {
		err = ipv4.NewConn(conn).SetTOS(op.DSCP << 2)
	} else {
		err = ipv6.NewConn(conn).SetTrafficClass(op.DSCP << 2)
	}
	op.log(safeconn.LocalAddr(conn), err)
	return conn, nil
}

// MarkPacketConn is like Call for an unconnected datagram socket.
func (op *MarkTrafficFunc) MarkPacketConn(pconn net.PacketConn) {
	if op.DSCP <= 0 {
		return
	}
	var err error
	if isIPv4(pconn.LocalAddr()) {
		err = ipv4.NewPacketConn(pconn).SetTOS(op.DSCP << 2)
	} else {
		err = ipv6.NewPacketConn(pconn).SetTrafficClass(op.DSCP << 2)
	}
	op.log(pconn.LocalAddr().String(), err)
}

func (op *MarkTrafficFunc) log(laddr string, err error) {
	op.Logger.Info(
		"markTraffic",
		slog.Int("dscp", op.DSCP),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr),
	)
}

func isIPv4(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.To4() != nil
	case *net.UDPAddr:
		return a.IP.To4() != nil
	default:
		return true
	}
}
