// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// NewStreamSource returns a new [*StreamSource].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewStreamSource(cfg *Config, logger SLogger) *StreamSource {
	return &StreamSource{
		Logger:       logger,
		MaxFrameSize: DefaultMaxFrameSize,
		TimeNow:      cfg.TimeNow,
	}
}

// StreamSource is the [FrameSource] of the length-prefixed stream channel.
//
// Fields must not be mutated while Run is executing.
type StreamSource struct {
	// Logger is the [SLogger] to use.
	Logger SLogger

	// MaxFrameSize bounds the declared frame length.
	MaxFrameSize int

	// OnPreamble receives the field of view when Preamble is set.
	// It may be nil.
	OnPreamble func(FieldOfView)

	// Preamble expects a field-of-view preamble as the first frame of
	// each connection. The preamble never reaches the sink.
	Preamble bool

	// SenderTimestamp expects the 8-byte sender timestamp before each
	// frame after the preamble.
	SenderTimestamp bool

	// TimeNow returns the current time (configurable for testing).
	TimeNow func() time.Time

	frames atomic.Uint64
	bytes  atomic.Uint64
}

var _ FrameSource = &StreamSource{}

// Frames returns the number of frames pushed to a sink so far.
func (s *StreamSource) Frames() uint64 {
	return s.frames.Load()
}

// Bytes returns the payload bytes pushed to a sink so far.
func (s *StreamSource) Bytes() uint64 {
	return s.bytes.Load()
}

// Run implements [FrameSource].
func (s *StreamSource) Run(ctx context.Context, conn net.Conn, sink FrameSink) error {
	sr := NewStreamReader(conn)
	sr.MaxFrameSize = s.MaxFrameSize
	sr.TimeNow = s.TimeNow

	if s.Preamble {
		if err := s.readPreamble(ctx, sr); err != nil {
			return err
		}
	}

	sr.SenderTimestamp = s.SenderTimestamp
	for {
		frame, err := sr.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyChannelError(err)
		}
		s.frames.Add(1)
		s.bytes.Add(uint64(len(frame.Payload)))
		sink.Push(frame)
	}
}

func (s *StreamSource) readPreamble(ctx context.Context, sr *StreamReader) error {
	frame, err := sr.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyChannelError(err)
	}
	fov, err := ParseFieldOfView(frame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannelIO, err)
	}
	s.Logger.Info(
		"preamble",
		slog.Float64("hfov", fov.Horizontal),
		slog.Float64("vfov", fov.Vertical),
		slog.Time("t", frame.ReceivedAt),
	)
	if s.OnPreamble != nil {
		s.OnPreamble(fov)
	}
	return nil
}
