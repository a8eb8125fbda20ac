// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// RendezvousMessage is the datagram registering the receiver with the
// producer of the chunked channel.
var RendezvousMessage = []byte("ping")

// maxDatagramSize is the largest UDP payload.
const maxDatagramSize = 65535

// NewDatagramSource returns a new [*DatagramSource].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDatagramSource(cfg *Config, logger SLogger) *DatagramSource {
	return &DatagramSource{
		ErrClassifier:      cfg.ErrClassifier,
		IdleTimeout:        5 * time.Second,
		Logger:             logger,
		MaxAssemblies:      DefaultMaxAssemblies,
		MaxAssemblyAge:     DefaultMaxAssemblyAge,
		RendezvousInterval: 500 * time.Millisecond,
		TimeNow:            cfg.TimeNow,
	}
}

// DatagramSource is the [FrameSource] of the chunked datagram channel.
//
// It expects a connected datagram [net.Conn]. Run sends the rendezvous
// datagram and repeats it every RendezvousInterval until the producer
// starts sending. Once traffic has started, IdleTimeout of silence is a
// channel fault, so that the session reconnects and registers again.
//
// Each Run uses a fresh [*Reassembler], since frame ids restart when
// the producer restarts. Counters accumulate across runs.
//
// Fields must not be mutated while Run is executing.
type DatagramSource struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// IdleTimeout is the tolerated silence after traffic started. Zero
	// waits forever.
	IdleTimeout time.Duration

	// Logger is the [SLogger] to use.
	Logger SLogger

	// MaxAssemblies configures each [*Reassembler].
	MaxAssemblies int

	// MaxAssemblyAge configures each [*Reassembler].
	MaxAssemblyAge time.Duration

	// RendezvousInterval is the rendezvous retry period.
	RendezvousInterval time.Duration

	// ResyncAfter configures each [*Reassembler].
	ResyncAfter time.Duration

	// TimeNow returns the current time (configurable for testing).
	TimeNow func() time.Time

	current    atomic.Pointer[Reassembler]
	datagrams  atomic.Uint64
	rendezvous atomic.Uint64
	mu         sync.Mutex
	retired    ReassemblerStats
}

var _ FrameSource = &DatagramSource{}

// DatagramStats is a snapshot of the [*DatagramSource] counters.
type DatagramStats struct {
	// Datagrams counts datagrams received.
	Datagrams uint64

	// Rendezvous counts rendezvous datagrams sent.
	Rendezvous uint64

	// Reassembly aggregates the counters of every [*Reassembler] used.
	Reassembly ReassemblerStats
}

// Stats returns a snapshot of the counters. Safe for concurrent use.
func (s *DatagramSource) Stats() DatagramStats {
	s.mu.Lock()
	total := s.retired
	if r := s.current.Load(); r != nil {
		total = addReassemblerStats(total, r.Stats())
	}
	s.mu.Unlock()
	return DatagramStats{
		Datagrams:  s.datagrams.Load(),
		Rendezvous: s.rendezvous.Load(),
		Reassembly: total,
	}
}

// Run implements [FrameSource].
func (s *DatagramSource) Run(ctx context.Context, conn net.Conn, sink FrameSink) error {
	reasm := NewReassembler()
	reasm.MaxAssemblies = s.MaxAssemblies
	reasm.MaxAssemblyAge = s.MaxAssemblyAge
	reasm.ResyncAfter = s.ResyncAfter
	reasm.TimeNow = s.TimeNow
	s.current.Store(reasm)
	defer s.retire(reasm)

	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyChannelError(err)
	}

	if err := s.sendRendezvous(conn); err != nil {
		return fail(err)
	}

	buf := make([]byte, maxDatagramSize)
	started := false
	for {
		if err := conn.SetReadDeadline(s.nextDeadline(started)); err != nil {
			return fail(err)
		}
		count, err := conn.Read(buf)
		if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
			if started {
				return fmt.Errorf("%w: no datagrams for %s", ErrChannelIO, s.IdleTimeout)
			}
			if err := s.sendRendezvous(conn); err != nil {
				return fail(err)
			}
			continue
		}
		if err != nil {
			return fail(err)
		}
		started = true
		s.datagrams.Add(1)

		frame, err := reasm.Add(buf[:count])
		if err != nil {
			s.Logger.Debug(
				"datagramDiscarded",
				slog.Int("ioBytesCount", count),
				slog.Any("err", err),
				slog.String("fault", faultKind(err)),
			)
			continue
		}
		if frame != nil {
			sink.Push(frame)
		}
	}
}

// nextDeadline uses the wall clock: deadlines are enforced by the runtime
// poller, which ignores TimeNow.
func (s *DatagramSource) nextDeadline(started bool) time.Time {
	switch {
	case !started:
		return time.Now().Add(s.RendezvousInterval)
	case s.IdleTimeout > 0:
		return time.Now().Add(s.IdleTimeout)
	default:
		return time.Time{}
	}
}

func (s *DatagramSource) sendRendezvous(conn net.Conn) error {
	_, err := conn.Write(RendezvousMessage)
	s.Logger.Info(
		"rendezvous",
		slog.Any("err", err),
		slog.String("errClass", s.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", s.TimeNow()),
	)
	if err == nil {
		s.rendezvous.Add(1)
	}
	return err
}

func (s *DatagramSource) retire(r *Reassembler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = addReassemblerStats(s.retired, r.Stats())
	s.current.CompareAndSwap(r, nil)
}

func addReassemblerStats(a, b ReassemblerStats) ReassemblerStats {
	return ReassemblerStats{
		Completed:  a.Completed + b.Completed,
		Malformed:  a.Malformed + b.Malformed,
		Stale:      a.Stale + b.Stale,
		Duplicates: a.Duplicates + b.Duplicates,
		Superseded: a.Superseded + b.Superseded,
		Expired:    a.Expired + b.Expired,
		Overflowed: a.Overflowed + b.Overflowed,
		Resyncs:    a.Resyncs + b.Resyncs,
	}
}
