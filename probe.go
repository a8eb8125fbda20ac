// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// probeMagic prefixes every probe packet.
var probeMagic = [4]byte{'R', 'T', 'F', 'P'}

// probePacketSize is magic + kind + probe id + uint32 seq + int64 unix nanos.
const probePacketSize = 4 + 1 + 16 + 4 + 8

// Probe packet kinds.
const (
	probeRequest = 0
	probeReply   = 1
)

// Default probe timing.
const (
	DefaultProbeInterval = time.Second
	DefaultProbeTimeout  = time.Second
)

// maxProbePacket bounds the size of an echoed packet.
const maxProbePacket = 2048

// NewLatencyProbe returns a new [*LatencyProbe] using conn.
//
// The cfg argument contains the common configuration.
//
// The target argument is where probes go until a peer has been observed;
// it may be nil, in which case the probe only echoes until some packet
// reveals the peer.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewLatencyProbe(cfg *Config, conn net.PacketConn, target net.Addr, logger SLogger) *LatencyProbe {
	return &LatencyProbe{
		Conn:          conn,
		ErrClassifier: cfg.ErrClassifier,
		Interval:      DefaultProbeInterval,
		Logger:        logger,
		Target:        target,
		TimeNow:       cfg.TimeNow,
		Timeout:       DefaultProbeTimeout,
		Window:        NewLatencyWindow(DefaultLatencyWindow),
		id:            runtimex.PanicOnError1(uuid.NewV7()),
		outstanding:   make(map[uint32]time.Time),
	}
}

// LatencyProbe measures round-trip latency over a datagram channel that
// is independent of the frame channel.
//
// The protocol is symmetric. Every Interval we send a probe request
// carrying our random id, a sequence number and the send time; when it
// comes back we record the RTT in Window. A probe request with another
// id is echoed back marked as a reply, and any other packet is echoed
// back unchanged. The source of an echoed packet becomes the peer for
// our own probes. Replies that are not ours are dropped, so a packet
// never bounces between two probes after its sender went away. Two
// probes facing each other therefore both measure, and a plain echo
// server is also a valid peer.
//
// Fields must not be mutated after [*LatencyProbe.Run] is called.
type LatencyProbe struct {
	// Conn is the datagram channel. Run does not close it.
	Conn net.PacketConn

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Interval is the time between two probes. Zero disables sending,
	// leaving a pure echo responder.
	Interval time.Duration

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Target is the initial peer address.
	Target net.Addr

	// TimeNow returns the current time (configurable for testing).
	TimeNow func() time.Time

	// Timeout is how long we wait for an echo before counting a loss.
	Timeout time.Duration

	// Window collects the RTT samples.
	Window *LatencyWindow

	id          uuid.UUID
	mu          sync.Mutex
	peer        net.Addr
	seq         uint32
	outstanding map[uint32]time.Time

	echoed   atomic.Uint64
	dropped  atomic.Uint64
	sent     atomic.Uint64
	samples  atomic.Uint64
	timeouts atomic.Uint64
}

// ProbeStats is a snapshot of the [*LatencyProbe] counters.
type ProbeStats struct {
	// Echoed counts foreign packets echoed back.
	Echoed uint64

	// Dropped counts probe replies carrying another id.
	Dropped uint64

	// Sent counts probes we originated.
	Sent uint64

	// Samples counts probes that came back in time.
	Samples uint64

	// Timeouts counts probes that did not come back within Timeout.
	Timeouts uint64
}

// Stats returns a snapshot of the counters.
func (p *LatencyProbe) Stats() ProbeStats {
	return ProbeStats{
		Echoed:   p.echoed.Load(),
		Dropped:  p.dropped.Load(),
		Sent:     p.sent.Load(),
		Samples:  p.samples.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

// Peer returns the current peer address, if any.
func (p *LatencyProbe) Peer() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peer != nil {
		return p.peer
	}
	return p.Target
}

// Run echoes and measures until ctx is done or the channel fails.
//
// Closing Conn, or cancelling ctx while a watcher closes Conn, unblocks
// Run. It returns ctx.Err() when the context is done.
func (p *LatencyProbe) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.Logger.Info(
		"probeStart",
		slog.String("localAddr", p.Conn.LocalAddr().String()),
		slog.String("probeID", p.id.String()),
		slog.Time("t", p.TimeNow()),
	)

	var wg sync.WaitGroup
	if p.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sendLoop(ctx)
		}()
	}

	err := p.receiveLoop(ctx)
	cancel()
	wg.Wait()

	p.Logger.Info(
		"probeDone",
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("localAddr", p.Conn.LocalAddr().String()),
		slog.String("probeID", p.id.String()),
		slog.Time("t", p.TimeNow()),
	)
	return err
}

func (p *LatencyProbe) receiveLoop(ctx context.Context) error {
	buf := make([]byte, maxProbePacket)
	for {
		count, addr, err := p.Conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyChannelError(err)
		}
		packet := buf[:count]

		kind, id, seq, ok := parseProbePacket(packet)
		switch {
		case ok && id == p.id:
			p.recordEcho(seq)
			continue
		case ok && kind != probeRequest:
			p.dropped.Add(1)
			p.Logger.Debug(
				"latencyReplyDropped",
				slog.String("probeID", id.String()),
				slog.String("remoteAddr", addr.String()),
			)
			continue
		case ok:
			packet[4] = probeReply
		}

		p.mu.Lock()
		p.peer = addr
		p.mu.Unlock()

		// A failed echo is a lost sample for the peer, not a channel fault.
		if _, err := p.Conn.WriteTo(packet, addr); err != nil {
			p.Logger.Debug(
				"latencyEchoFailed",
				slog.Any("err", err),
				slog.String("errClass", p.ErrClassifier.Classify(err)),
				slog.String("remoteAddr", addr.String()),
			)
			continue
		}
		p.echoed.Add(1)
		p.Logger.Debug(
			"latencyEcho",
			slog.Int("ioBytesCount", count),
			slog.String("remoteAddr", addr.String()),
			slog.Time("t", p.TimeNow()),
		)
	}
}

func (p *LatencyProbe) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		p.expireOutstanding()
		p.sendProbe()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *LatencyProbe) sendProbe() {
	peer := p.Peer()
	if peer == nil {
		return
	}

	now := p.TimeNow()
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.outstanding[seq] = now
	p.mu.Unlock()

	packet := appendProbePacket(make([]byte, 0, probePacketSize), probeRequest, p.id, seq, now)

	// A send failure surfaces as a timeout; the receive loop owns fatal errors.
	if _, err := p.Conn.WriteTo(packet, peer); err != nil {
		p.Logger.Debug(
			"probeSendFailed",
			slog.Any("err", err),
			slog.String("errClass", p.ErrClassifier.Classify(err)),
			slog.String("remoteAddr", peer.String()),
		)
		return
	}
	p.sent.Add(1)
}

func appendProbePacket(buf []byte, kind byte, id uuid.UUID, seq uint32, sentAt time.Time) []byte {
	buf = append(buf, probeMagic[:]...)
	buf = append(buf, kind)
	buf = append(buf, id[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, seq)
	return binary.LittleEndian.AppendUint64(buf, uint64(sentAt.UnixNano()))
}

func parseProbePacket(packet []byte) (kind byte, id uuid.UUID, seq uint32, ok bool) {
	if len(packet) != probePacketSize || !bytes.Equal(packet[:4], probeMagic[:]) {
		return 0, id, 0, false
	}
	copy(id[:], packet[5:21])
	return packet[4], id, binary.LittleEndian.Uint32(packet[21:25]), true
}

func (p *LatencyProbe) recordEcho(seq uint32) {
	now := p.TimeNow()
	p.mu.Lock()
	sentAt, found := p.outstanding[seq]
	delete(p.outstanding, seq)
	p.mu.Unlock()

	// Late echoes were already counted as timeouts.
	if !found {
		return
	}
	rtt := now.Sub(sentAt)
	p.Window.Add(LatencySample{RTT: rtt, MeasuredAt: now})
	p.samples.Add(1)
	p.Logger.Info(
		"latencySample",
		slog.Float64("rttMs", durationMs(rtt)),
		slog.Uint64("seq", uint64(seq)),
		slog.Time("t", now),
	)
}

func (p *LatencyProbe) expireOutstanding() {
	now := p.TimeNow()
	p.mu.Lock()
	defer p.mu.Unlock()
	for seq, sentAt := range p.outstanding {
		if now.Sub(sentAt) > p.Timeout {
			delete(p.outstanding, seq)
			p.timeouts.Add(1)
			p.Logger.Info("latencyTimeout", slog.Uint64("seq", uint64(seq)))
		}
	}
}
