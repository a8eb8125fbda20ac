// SPDX-License-Identifier: GPL-3.0-or-later

// Command rtframe-recv receives frames from a stereo or depth camera
// producer and consumes the latest one at a fixed rate, the way a render
// loop would.
//
// Settings come from an optional YAML file (-config) with command line
// flags layered on top. Example:
//
//	rtframe-recv -host 192.168.1.20 -transport tcp -frame-port 9999 \
//		-latency-port 9998 -preamble -timestamp -preview :8080
//
// With -replay the frames come from the chunk datagrams of a packet
// capture instead, selected by -chunk-port (0 selects every UDP packet):
//
//	rtframe-recv -replay field.pcap -chunk-port 5005 -payload pointcloud
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bassosimone/rtframe"
	"github.com/bassosimone/rtframe/internal/preview"
)

// options are the settings that do not belong to [rtframe.SessionConfig].
type options struct {
	configPath  string
	logFormat   string
	logLevel    string
	payload     string
	previewAddr string
	replayPath  string
	reportEvery time.Duration
	tick        time.Duration
}

func main() {
	cfg, opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := newLogger(os.Stderr, opts.logFormat, opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("rtframe-recv failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// parseFlags loads the configuration file named by -config, if any, and
// applies the flags explicitly set on the command line on top of it.
func parseFlags(fs *flag.FlagSet, args []string) (rtframe.SessionConfig, options, error) {
	var opts options
	defaults := rtframe.DefaultSessionConfig()
	var flagged rtframe.SessionConfig
	noReconnect := false

	fs.StringVar(&opts.configPath, "config", "", "YAML session configuration file")
	fs.StringVar(&flagged.Host, "host", "", "producer host")
	fs.StringVar(&flagged.Transport, "transport", defaults.Transport, "frame channel: tcp or udp")
	fs.IntVar(&flagged.FramePort, "frame-port", 0, "producer port of the tcp frame channel")
	fs.IntVar(&flagged.ChunkPort, "chunk-port", 0, "producer port of the udp frame channel")
	fs.IntVar(&flagged.LatencyPort, "latency-port", 0, "producer port of the latency channel (0 disables)")
	fs.BoolVar(&flagged.Preamble, "preamble", false, "expect a field-of-view preamble")
	fs.BoolVar(&flagged.SenderTimestamp, "timestamp", false, "expect a sender timestamp before each tcp frame")
	fs.BoolVar(&noReconnect, "no-reconnect", false, "stay disconnected after the first fault")
	fs.DurationVar(&flagged.ReconnectDelay, "reconnect-delay", defaults.ReconnectDelay, "wait between connection attempts")
	fs.IntVar(&flagged.HandoffCapacity, "handoff", defaults.HandoffCapacity, "frames the consumer may lag behind")
	fs.IntVar(&flagged.DSCP, "dscp", 0, "DSCP code point of the media sockets")
	fs.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&opts.payload, "payload", "image", "payload kind: image or pointcloud")
	fs.StringVar(&opts.previewAddr, "preview", "", "serve a websocket preview on this address")
	fs.StringVar(&opts.replayPath, "replay", "", "replay the chunk datagrams of this pcap file and exit")
	fs.DurationVar(&opts.reportEvery, "report-every", 5*time.Second, "interval between status reports")
	fs.DurationVar(&opts.tick, "tick", time.Second/30, "consumer tick interval")
	if err := fs.Parse(args); err != nil {
		return defaults, opts, err
	}

	cfg := defaults
	if opts.configPath != "" {
		loaded, err := rtframe.LoadSessionConfig(opts.configPath)
		if err != nil {
			return cfg, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = flagged.Host
		case "transport":
			cfg.Transport = flagged.Transport
		case "frame-port":
			cfg.FramePort = flagged.FramePort
		case "chunk-port":
			cfg.ChunkPort = flagged.ChunkPort
		case "latency-port":
			cfg.LatencyPort = flagged.LatencyPort
		case "preamble":
			cfg.Preamble = flagged.Preamble
		case "timestamp":
			cfg.SenderTimestamp = flagged.SenderTimestamp
		case "no-reconnect":
			cfg.AutoReconnect = !noReconnect
		case "reconnect-delay":
			cfg.ReconnectDelay = flagged.ReconnectDelay
		case "handoff":
			cfg.HandoffCapacity = flagged.HandoffCapacity
		case "dscp":
			cfg.DSCP = flagged.DSCP
		}
	})
	if opts.payload != "image" && opts.payload != "pointcloud" {
		return cfg, opts, fmt.Errorf("unknown payload kind %q", opts.payload)
	}
	if opts.tick <= 0 {
		return cfg, opts, fmt.Errorf("tick must be positive")
	}
	// A replay needs no producer.
	if opts.replayPath != "" {
		return cfg, opts, nil
	}
	return cfg, opts, cfg.Validate()
}

// run receives until ctx is done.
func run(ctx context.Context, cfg rtframe.SessionConfig, opts options, logger *slog.Logger) error {
	if opts.replayPath != "" {
		return replay(ctx, cfg, opts, logger)
	}
	session := rtframe.NewSession(rtframe.NewConfig(), logger)
	session.OnPreamble = func(fov rtframe.FieldOfView) {
		logger.Info("fieldOfView", slog.String("fov", fov.String()))
	}

	var server *preview.Server
	if opts.previewAddr != "" {
		server = preview.New(func() any { return session.Stats() }, logger)
		go func() {
			if err := server.ListenAndServe(ctx, opts.previewAddr); err != nil {
				logger.Error("preview failed", slog.Any("err", err))
			}
		}()
	}

	if err := session.Start(ctx, cfg); err != nil {
		return err
	}

	c := &consumer{logger: logger, payload: opts.payload, preview: server}
	ticker := time.NewTicker(opts.tick)
	defer ticker.Stop()
	report := time.NewTicker(opts.reportEvery)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return session.Stop()
		case <-ticker.C:
			if frame, ok := session.TryGetLatestFrame(); ok {
				c.consume(frame)
			}
		case <-report.C:
			c.report(session)
		}
	}
}

// replay consumes every frame reassembled from the capture at opts.replayPath.
func replay(ctx context.Context, cfg rtframe.SessionConfig, opts options, logger *slog.Logger) error {
	filep, err := os.Open(opts.replayPath)
	if err != nil {
		return err
	}
	defer filep.Close()

	replayer := rtframe.NewPcapReplayer(cfg.ChunkPort, logger)
	replayer.Reassembler.MaxAssemblyAge = cfg.MaxAssemblyAge
	replayer.Reassembler.MaxAssemblies = cfg.MaxAssemblies
	replayer.Reassembler.ResyncAfter = cfg.ResyncAfter

	c := &consumer{logger: logger, payload: opts.payload}
	stats, err := replayer.Replay(ctx, filep, rtframe.FrameSinkFunc(c.consume))
	logger.Info(
		"replayDone",
		slog.String("path", opts.replayPath),
		slog.Uint64("datagrams", stats.Datagrams),
		slog.Uint64("frames", stats.Frames),
		slog.Uint64("consumed", c.consumed),
		slog.Uint64("invalid", c.invalid),
		slog.Uint64("stale", stats.Reassembly.Stale),
		slog.Uint64("superseded", stats.Reassembly.Superseded),
	)
	return err
}
