// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"log/slog"
	"time"

	"github.com/bassosimone/rtframe"
	"github.com/bassosimone/rtframe/internal/preview"
)

// consumer stands in for the render loop.
type consumer struct {
	logger   *slog.Logger
	payload  string
	preview  *preview.Server
	consumed uint64
	invalid  uint64
	lastSeq  uint64
	skipped  uint64
}

func (c *consumer) consume(frame *rtframe.Frame) {
	if c.consumed > 0 && frame.Seq > c.lastSeq+1 {
		c.skipped += frame.Seq - c.lastSeq - 1
	}
	c.lastSeq = frame.Seq
	c.consumed++

	attrs := []any{
		slog.Uint64("seq", frame.Seq),
		slog.Int("size", len(frame.Payload)),
		slog.Duration("age", frame.Age(time.Now())),
	}
	if transit, ok := frame.TransitDelay(); ok {
		attrs = append(attrs, slog.Duration("transit", transit))
	}
	if c.payload == "pointcloud" {
		pc, err := rtframe.UnmarshalPointCloud(frame.Payload)
		if err != nil {
			c.invalid++
			c.logger.Debug("frameInvalid", slog.Uint64("seq", frame.Seq), slog.Any("err", err))
			return
		}
		attrs = append(attrs, slog.Int("points", len(pc.Points)))
	}
	c.logger.Debug("frameConsumed", attrs...)

	if c.preview != nil {
		c.preview.Publish(frame)
	}
}

func (c *consumer) report(session *rtframe.Session) {
	stats := session.Stats()
	attrs := []any{
		slog.String("state", stats.State.String()),
		slog.Uint64("received", stats.Frames),
		slog.Uint64("consumed", c.consumed),
		slog.Uint64("skipped", c.skipped),
		slog.Uint64("invalid", c.invalid),
		slog.Uint64("faults", stats.Faults),
		slog.String("lastFault", stats.LastFault),
		slog.Uint64("bytesRead", stats.IO.BytesRead),
	}
	if estimate, ok := session.LatencyEstimate(); ok {
		attrs = append(attrs,
			slog.Float64("latencyMs", estimate.LatestMs),
			slog.Float64("latencyAvgMs", estimate.AverageMs),
		)
	}
	c.logger.Info("status", attrs...)
}
