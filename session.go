// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// NewSession returns a new [*Session] in the [Disconnected] state.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewSession(cfg *Config, logger SLogger) *Session {
	runtimex.Assert(cfg != nil)
	return &Session{cfg: cfg, logger: logger}
}

// Session connects to a producer, keeps the frame channel alive and
// exposes the latest frame to a consumer polling at its own rate.
//
// A Session runs one goroutine per channel: a supervisor that connects,
// receives and reconnects, and, when enabled, a latency probe. Neither
// ever waits on the consumer, and the consumer never waits on them.
//
// The hooks must be set before [*Session.Start]. They are invoked from
// the session goroutines and must not block.
type Session struct {
	// OnError receives every transport fault. It may be nil.
	OnError func(err error)

	// OnPreamble receives the field-of-view preamble. It may be nil.
	OnPreamble func(fov FieldOfView)

	// OnStateChange observes state transitions. It may be nil.
	OnStateChange func(from, to ConnectionState)

	cfg    *Config
	logger SLogger

	mu  sync.Mutex
	run *sessionRun

	// stateMu makes the stopped check and the state swap one step.
	stateMu sync.Mutex
	state   atomic.Int32
}

// sessionRun is the state of a single Start/Stop cycle.
type sessionRun struct {
	config  SessionConfig
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	handoff  *Handoff
	window   *LatencyWindow
	stream   *StreamSource
	datagram *DatagramSource
	probe    atomic.Pointer[LatencyProbe]
	io       IOCounters

	frames    atomic.Uint64
	attempts  atomic.Uint64
	connects  atomic.Uint64
	faults    atomic.Uint64
	lastFault atomic.Pointer[string]
}

// Start validates config and starts the session goroutines.
//
// It returns [ErrAlreadyStarted] while a previous Start has not been
// followed by [*Session.Stop], and an error wrapping [ErrInvalidConfig]
// when config is invalid. Cancelling ctx has the same effect as Stop,
// except that nobody waits for the goroutines.
func (s *Session) Start(ctx context.Context, config SessionConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil && !s.run.stopped.Load() {
		select {
		case <-s.run.done:
		default:
			return ErrAlreadyStarted
		}
	}

	run := s.newRun(config)
	ctx, run.cancel = context.WithCancel(ctx)
	s.run = run

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.supervise(ctx, run)
	}()
	if config.LatencyPort != 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.superviseProbe(ctx, run)
		}()
	}
	go func() {
		wg.Wait()
		close(run.done)
	}()
	return nil
}

func (s *Session) newRun(config SessionConfig) *sessionRun {
	run := &sessionRun{
		config:  config,
		done:    make(chan struct{}),
		handoff: NewHandoff(config.HandoffCapacity),
		window:  NewLatencyWindow(config.LatencyWindow),
	}

	switch config.Transport {
	case TransportStream:
		run.stream = NewStreamSource(s.cfg, s.logger)
		run.stream.MaxFrameSize = config.MaxFrameSize
		run.stream.SenderTimestamp = config.SenderTimestamp
		run.stream.Preamble = config.Preamble
		run.stream.OnPreamble = s.OnPreamble
	case TransportDatagram:
		run.datagram = NewDatagramSource(s.cfg, s.logger)
		run.datagram.RendezvousInterval = config.RendezvousInterval
		run.datagram.IdleTimeout = config.IdleTimeout
		run.datagram.MaxAssemblyAge = config.MaxAssemblyAge
		run.datagram.MaxAssemblies = config.MaxAssemblies
		run.datagram.ResyncAfter = config.ResyncAfter
	}
	return run
}

// source returns the [FrameSource] and producer port of the run.
func (run *sessionRun) source() (FrameSource, int) {
	if run.datagram != nil {
		return run.datagram, run.config.ChunkPort
	}
	return run.stream, run.config.FramePort
}

// Stop cancels the session, closes its channels and waits up to the
// configured stop timeout for the goroutines to exit.
//
// When they do not exit in time Stop returns [ErrStopTimeout] and
// abandons them: they can no longer change the session state and exit
// on their own once the blocked call returns. Stop on a session that is
// not running returns nil.
func (s *Session) Stop() error {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil || run.stopped.Load() {
		return nil
	}

	run.cancel()
	timer := time.NewTimer(run.config.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-run.done:
	case <-timer.C:
		err = ErrStopTimeout
		s.logger.Info("stopTimeout", slog.Duration("timeout", run.config.StopTimeout))
	}

	s.markStopped(run)
	return err
}

// TryGetLatestFrame returns the most recent complete frame without
// blocking, or false when no new frame arrived since the last call.
func (s *Session) TryGetLatestFrame() (*Frame, bool) {
	run := s.currentRun()
	if run == nil {
		return nil, false
	}
	return run.handoff.TryTake()
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// LatencyEstimate returns the latest and average round-trip latency, or
// false when latency measurement is disabled or has no samples yet.
func (s *Session) LatencyEstimate() (LatencyEstimate, bool) {
	run := s.currentRun()
	if run == nil {
		return LatencyEstimate{}, false
	}
	return run.window.Estimate()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	stats := SessionStats{State: s.State()}
	run := s.currentRun()
	if run == nil {
		return stats
	}
	stats.ConnectAttempts = run.attempts.Load()
	stats.Connects = run.connects.Load()
	stats.Faults = run.faults.Load()
	if label := run.lastFault.Load(); label != nil {
		stats.LastFault = *label
	}
	stats.Frames = run.frames.Load()
	stats.Handoff = run.handoff.Stats()
	if run.datagram != nil {
		stats.Datagram = run.datagram.Stats()
	}
	stats.IO = run.io.Snapshot()
	if probe := run.probe.Load(); probe != nil {
		stats.Probe = probe.Stats()
	}
	return stats
}

func (s *Session) currentRun() *sessionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// transition moves to state to unless run has been stopped.
func (s *Session) transition(run *sessionRun, to ConnectionState) {
	s.stateMu.Lock()
	if run.stopped.Load() {
		s.stateMu.Unlock()
		return
	}
	from := ConnectionState(s.state.Swap(int32(to)))
	s.stateMu.Unlock()
	s.notifyState(from, to)
}

// markStopped detaches run from the session state and moves to [Disconnected].
func (s *Session) markStopped(run *sessionRun) {
	s.stateMu.Lock()
	run.stopped.Store(true)
	from := ConnectionState(s.state.Swap(int32(Disconnected)))
	s.stateMu.Unlock()
	s.notifyState(from, Disconnected)
}

func (s *Session) notifyState(from, to ConnectionState) {
	if from == to {
		return
	}
	s.logger.Info(
		"stateChange",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Time("t", s.cfg.TimeNow()),
	)
	if s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}

// supervise runs connection attempts until ctx is done or a fault
// happens with auto-reconnect disabled.
func (s *Session) supervise(ctx context.Context, run *sessionRun) {
	for {
		err := s.connectAndReceive(ctx, run)
		if ctx.Err() != nil {
			s.transition(run, Disconnected)
			return
		}

		label := faultKind(err)
		run.faults.Add(1)
		run.lastFault.Store(&label)
		s.transition(run, Faulted)
		if s.OnError != nil && !run.stopped.Load() {
			s.OnError(err)
		}

		if !run.config.AutoReconnect {
			s.transition(run, Disconnected)
			return
		}
		if !sleepContext(ctx, run.config.ReconnectDelay) {
			s.transition(run, Disconnected)
			return
		}
	}
}

// connectAndReceive performs a single connection attempt and returns
// the error that ended it, which is never nil. The channel is closed
// before returning.
func (s *Session) connectAndReceive(ctx context.Context, run *sessionRun) error {
	logger := WithSpanID(s.logger, NewSpanID())
	source, port := run.source()

	s.transition(run, Connecting)
	run.attempts.Add(1)

	dial := Compose3[Unit, string, net.Conn, net.Conn](
		NewEndpointFunc(run.config.Host, port),
		NewConnectFunc(s.cfg, run.config.Transport, logger),
		NewMarkTrafficFunc(s.cfg, run.config.DSCP, logger),
	)
	dialCtx, cancel := context.WithTimeout(ctx, run.config.ConnectTimeout)
	conn, err := dial.Call(dialCtx, Unit{})
	cancel()
	if err != nil {
		return err
	}

	// The channel lives as long as the session context, not the dial one.
	wrap := Compose2[net.Conn, net.Conn, net.Conn](
		NewObserveConnFunc(s.cfg, &run.io, logger),
		NewCancelWatchFunc(),
	)
	conn = runtimex.PanicOnError1(wrap.Call(ctx, conn))
	defer conn.Close()

	run.connects.Add(1)
	s.transition(run, Connected)

	sink := FrameSinkFunc(func(frame *Frame) {
		frame.Seq = run.frames.Add(1)
		run.handoff.Push(frame)
	})

	t0 := s.cfg.TimeNow()
	logger.Info(
		"receiveStart",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", run.config.Transport),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
	)
	err = source.Run(ctx, conn, sink)

	// A read interrupted by the watcher is a stop request, not a fault.
	if closedByContext(conn) {
		err = ctx.Err()
	}
	logger.Info(
		"receiveDone",
		slog.Any("err", err),
		slog.String("errClass", s.cfg.ErrClassifier.Classify(err)),
		slog.String("fault", faultKind(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", run.config.Transport),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", s.cfg.TimeNow()),
	)
	return err
}

// superviseProbe keeps the latency probe running until ctx is done.
// Probe faults are logged and never reach the frame path.
func (s *Session) superviseProbe(ctx context.Context, run *sessionRun) {
	for {
		err := s.runProbe(ctx, run)
		if ctx.Err() != nil {
			return
		}
		s.logger.Info(
			"probeFault",
			slog.Any("err", err),
			slog.String("errClass", s.cfg.ErrClassifier.Classify(err)),
		)
		if !sleepContext(ctx, max(run.config.ReconnectDelay, time.Second)) {
			return
		}
	}
}

func (s *Session) runProbe(ctx context.Context, run *sessionRun) error {
	address := net.JoinHostPort(run.config.Host, strconv.Itoa(run.config.LatencyPort))
	target, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return err
	}
	pconn, err := s.cfg.PacketListener.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		return err
	}
	defer pconn.Close()
	stop := context.AfterFunc(ctx, func() { pconn.Close() })
	defer stop()

	NewMarkTrafficFunc(s.cfg, run.config.DSCP, s.logger).MarkPacketConn(pconn)

	probe := NewLatencyProbe(s.cfg, pconn, target, s.logger)
	probe.Interval = run.config.ProbeInterval
	probe.Timeout = run.config.ProbeTimeout
	probe.Window = run.window
	run.probe.Store(probe)

	err = probe.Run(ctx)
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

// sleepContext waits for d or until ctx is done, reporting whether the
// full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
