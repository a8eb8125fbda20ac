// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// NewPcapReplayer returns a new [*PcapReplayer] for the chunked channel
// on the given UDP port. Zero matches any port.
func NewPcapReplayer(port int, logger SLogger) *PcapReplayer {
	return &PcapReplayer{Logger: logger, Port: port, Reassembler: NewReassembler()}
}

// PcapReplayer feeds the chunk datagrams of a packet capture to a
// [*Reassembler], using capture timestamps as the reassembly clock.
// This allows reproducing field loss patterns offline.
type PcapReplayer struct {
	// Logger is the [SLogger] to use.
	Logger SLogger

	// Port selects the UDP datagrams by source or destination port.
	Port int

	// Reassembler receives the datagrams. Its TimeNow is replaced.
	Reassembler *Reassembler
}

// PcapReplayStats summarizes a replay.
type PcapReplayStats struct {
	// Packets counts the captured packets read.
	Packets uint64

	// Datagrams counts the UDP datagrams fed to the reassembler.
	Datagrams uint64

	// Frames counts the frames pushed to the sink.
	Frames uint64

	// Reassembly is the reassembler counters after the replay.
	Reassembly ReassemblerStats
}

// Replay reads a pcap stream from r and pushes completed frames to sink.
// ReceivedAt of each frame is the capture time of its last chunk.
func (p *PcapReplayer) Replay(ctx context.Context, r io.Reader, sink FrameSink) (PcapReplayStats, error) {
	var stats PcapReplayStats
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("pcap: %w", err)
	}

	var captured time.Time
	p.Reassembler.TimeNow = func() time.Time { return captured }

	for ctx.Err() == nil {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.finish(stats), fmt.Errorf("pcap: packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || !p.matches(udp) || len(udp.Payload) == 0 {
			continue
		}
		stats.Datagrams++

		captured = ci.Timestamp
		frame, err := p.Reassembler.Add(udp.Payload)
		if err != nil {
			p.Logger.Debug(
				"datagramDiscarded",
				slog.Int("ioBytesCount", len(udp.Payload)),
				slog.Any("err", err),
				slog.String("fault", faultKind(err)),
				slog.Time("t", captured),
			)
			continue
		}
		if frame != nil {
			stats.Frames++
			sink.Push(frame)
		}
	}

	stats = p.finish(stats)
	p.Logger.Info(
		"pcapReplayDone",
		slog.Uint64("packets", stats.Packets),
		slog.Uint64("datagrams", stats.Datagrams),
		slog.Uint64("frames", stats.Frames),
		slog.Uint64("malformed", stats.Reassembly.Malformed),
		slog.Uint64("expired", stats.Reassembly.Expired),
	)
	return stats, ctx.Err()
}

func (p *PcapReplayer) matches(udp *layers.UDP) bool {
	return p.Port == 0 || int(udp.SrcPort) == p.Port || int(udp.DstPort) == p.Port
}

func (p *PcapReplayer) finish(stats PcapReplayStats) PcapReplayStats {
	stats.Reassembly = p.Reassembler.Stats()
	return stats
}
