// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bassosimone/rtframe"
)

// simulator produces frames on every channel.
type simulator struct {
	chunkSize int
	fov       *rtframe.FieldOfView
	generator *generator
	interval  time.Duration
	logger    *slog.Logger
	timestamp bool
}

// serveStream accepts receivers and streams frames to each of them.
func (s *simulator) serveStream(ctx context.Context, ln net.Listener) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("streamListen", slog.String("localAddr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Info("acceptFailed", slog.Any("err", err))
			}
			return
		}
		go s.streamTo(ctx, conn)
	}
}

// streamTo writes the preamble, if any, and then one frame per interval
// until the receiver goes away.
func (s *simulator) streamTo(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Info("receiverConnected", slog.String("remoteAddr", remote))

	sw := rtframe.NewStreamWriter(conn)
	if s.fov != nil {
		if err := sw.WriteFrame(s.fov.Encode()); err != nil {
			s.logger.Info("receiverGone", slog.String("remoteAddr", remote), slog.Any("err", err))
			return
		}
	}
	sw.SenderTimestamp = s.timestamp

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	var sent uint64
	for {
		if err := sw.WriteFrame(s.generator.next(sent)); err != nil {
			s.logger.Info("receiverGone", slog.String("remoteAddr", remote), slog.Uint64("frames", sent), slog.Any("err", err))
			return
		}
		sent++
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// serveChunks waits for a rendezvous and then sends chunked frames to
// the address that sent the latest one.
func (s *simulator) serveChunks(ctx context.Context, pconn net.PacketConn) {
	stop := context.AfterFunc(ctx, func() { pconn.Close() })
	defer stop()
	defer pconn.Close()

	s.logger.Info("chunkListen", slog.String("localAddr", pconn.LocalAddr().String()))

	var receiver atomic.Pointer[net.Addr]
	go func() {
		buf := make([]byte, 64)
		for {
			count, addr, err := pconn.ReadFrom(buf)
			if err != nil {
				return
			}
			if string(buf[:count]) != string(rtframe.RendezvousMessage) {
				continue
			}
			if prev := receiver.Swap(&addr); prev == nil || (*prev).String() != addr.String() {
				s.logger.Info("rendezvous", slog.String("remoteAddr", addr.String()))
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	var frameID uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		addr := receiver.Load()
		if addr == nil {
			continue
		}
		frameID++
		datagrams, err := rtframe.SplitFrame(frameID, s.generator.next(uint64(frameID)), s.chunkSize)
		if err != nil {
			s.logger.Info("splitFailed", slog.Any("err", err))
			return
		}
		for _, datagram := range datagrams {
			if _, err := pconn.WriteTo(datagram, *addr); err != nil {
				s.logger.Debug("sendFailed", slog.String("remoteAddr", (*addr).String()), slog.Any("err", err))
				break
			}
		}
	}
}

// serveLatency echoes receiver probes and measures the receiver in turn.
func (s *simulator) serveLatency(ctx context.Context, pconn net.PacketConn, interval time.Duration) {
	stop := context.AfterFunc(ctx, func() { pconn.Close() })
	defer stop()
	defer pconn.Close()

	probe := rtframe.NewLatencyProbe(rtframe.NewConfig(), pconn, nil, s.logger)
	probe.Interval = interval
	if err := probe.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Info("latencyFailed", slog.Any("err", err))
	}
}
