// SPDX-License-Identifier: GPL-3.0-or-later

// Command rtframe-sim simulates a camera producer for testing receivers.
//
// It serves the length-prefixed stream channel on -frame-port, the
// chunked datagram channel on -chunk-port and the latency echo channel
// on -latency-port. A zero port disables the channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bassosimone/rtframe"
)

func main() {
	var (
		listen      = flag.String("listen", "0.0.0.0", "address to listen on")
		framePort   = flag.Int("frame-port", 9999, "tcp frame channel port (0 disables)")
		chunkPort   = flag.Int("chunk-port", 5005, "udp frame channel port (0 disables)")
		latencyPort = flag.Int("latency-port", 9998, "udp latency channel port (0 disables)")
		rate        = flag.Float64("rate", 30, "frames per second")
		size        = flag.Int("size", 60000, "image payload size in bytes")
		points      = flag.Int("points", 0, "send point clouds with this many points instead of images")
		chunkSize   = flag.Int("chunk-size", rtframe.DefaultChunkSize, "datagram chunk payload size")
		fov         = flag.String("fov", "", "field-of-view preamble, e.g. 110,70")
		timestamp   = flag.Bool("timestamp", false, "prefix tcp frames with the sender timestamp")
		probeEvery  = flag.Duration("probe-interval", 2*time.Second, "latency probe interval (0 only echoes)")
		verbose     = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sim := &simulator{
		chunkSize: *chunkSize,
		generator: newGenerator(*size, *points),
		interval:  time.Duration(float64(time.Second) / *rate),
		logger:    logger,
		timestamp: *timestamp,
	}
	if *fov != "" {
		parsed, err := rtframe.ParseFieldOfView([]byte(*fov))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		sim.fov = &parsed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sim.serve(ctx, *listen, *framePort, *chunkPort, *latencyPort, *probeEvery); err != nil {
		logger.Error("rtframe-sim failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// serve runs the enabled channels until ctx is done or one fails to start.
func (s *simulator) serve(ctx context.Context, host string, framePort, chunkPort, latencyPort int, probeEvery time.Duration) error {
	lc := &net.ListenConfig{}
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if framePort != 0 {
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(framePort)))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveStream(ctx, ln)
		}()
	}

	if chunkPort != 0 {
		pconn, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(chunkPort)))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveChunks(ctx, pconn)
		}()
	}

	if latencyPort != 0 {
		pconn, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(latencyPort)))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveLatency(ctx, pconn, probeEvery)
		}()
	}

	<-ctx.Done()
	return nil
}
