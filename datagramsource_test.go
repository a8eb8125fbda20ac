// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newScriptedDatagramConn returns a connected datagram conn whose reads
// follow script. Each entry is either a datagram or an error. Writes are
// recorded into writes.
func newScriptedDatagramConn(script []any, writes *[][]byte) net.Conn {
	conn := newMinimalConn()
	conn.SetReadDeadFunc = func(time.Time) error { return nil }
	conn.WriteFunc = func(b []byte) (int, error) {
		*writes = append(*writes, append([]byte{}, b...))
		return len(b), nil
	}
	conn.ReadFunc = func(b []byte) (int, error) {
		if len(script) == 0 {
			return 0, net.ErrClosed
		}
		step := script[0]
		script = script[1:]
		switch v := step.(type) {
		case []byte:
			return copy(b, v), nil
		case error:
			return 0, v
		default:
			panic("unexpected script step")
		}
	}
	return conn
}

// Read timeouts before traffic re-send the rendezvous; after traffic
// they are a channel fault.
func TestDatagramSourceRendezvousAndIdle(t *testing.T) {
	datagrams, err := SplitFrame(1, []byte("abcdef"), 4)
	require.NoError(t, err)

	var writes [][]byte
	conn := newScriptedDatagramConn([]any{
		os.ErrDeadlineExceeded,
		os.ErrDeadlineExceeded,
		datagrams[0],
		datagrams[1],
		os.ErrDeadlineExceeded,
	}, &writes)

	src := NewDatagramSource(NewConfig(), DefaultSLogger())
	var frames []*Frame
	err = src.Run(context.Background(), conn, FrameSinkFunc(func(frame *Frame) {
		frames = append(frames, frame)
	}))

	require.ErrorIs(t, err, ErrChannelIO)
	require.Len(t, frames, 1)
	assert.Equal(t, "abcdef", string(frames[0].Payload))
	assert.Equal(t, [][]byte{RendezvousMessage, RendezvousMessage, RendezvousMessage}, writes)

	stats := src.Stats()
	assert.Equal(t, uint64(2), stats.Datagrams)
	assert.Equal(t, uint64(3), stats.Rendezvous)
	assert.Equal(t, uint64(1), stats.Reassembly.Completed)
}

// Malformed and stale datagrams are counted and skipped.
func TestDatagramSourceDiscards(t *testing.T) {
	fresh, err := SplitFrame(5, []byte("new"), 0)
	require.NoError(t, err)
	stale, err := SplitFrame(4, []byte("old"), 0)
	require.NoError(t, err)

	var writes [][]byte
	conn := newScriptedDatagramConn([]any{
		[]byte{1, 2},
		fresh[0],
		stale[0],
		errors.New("boom"),
	}, &writes)

	src := NewDatagramSource(NewConfig(), DefaultSLogger())
	var frames []*Frame
	err = src.Run(context.Background(), conn, FrameSinkFunc(func(frame *Frame) {
		frames = append(frames, frame)
	}))

	require.ErrorIs(t, err, ErrChannelIO)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(5), frames[0].FrameID)

	stats := src.Stats().Reassembly
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Stale)
}

// Counters survive across runs, while each run starts a fresh reassembler
// so that a restarted producer is accepted.
func TestDatagramSourceRestart(t *testing.T) {
	first, err := SplitFrame(100, []byte("before"), 0)
	require.NoError(t, err)
	second, err := SplitFrame(1, []byte("after"), 0)
	require.NoError(t, err)

	src := NewDatagramSource(NewConfig(), DefaultSLogger())
	var frames []*Frame
	sink := FrameSinkFunc(func(frame *Frame) { frames = append(frames, frame) })

	var writes [][]byte
	err = src.Run(context.Background(), newScriptedDatagramConn([]any{first[0]}, &writes), sink)
	require.ErrorIs(t, err, ErrConnectionClosed)
	err = src.Run(context.Background(), newScriptedDatagramConn([]any{second[0]}, &writes), sink)
	require.ErrorIs(t, err, ErrConnectionClosed)

	require.Len(t, frames, 2)
	assert.Equal(t, "after", string(frames[1].Payload))
	assert.Equal(t, uint64(2), src.Stats().Reassembly.Completed)
	assert.Equal(t, uint64(2), src.Stats().Rendezvous)
}

// Over loopback the producer learns our address from the rendezvous.
func TestDatagramSourceLoopback(t *testing.T) {
	producer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer producer.Close()

	conn, err := net.Dial("udp", producer.LocalAddr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	context.AfterFunc(ctx, func() { conn.Close() })

	delivered := make(chan *Frame, 1)
	src := NewDatagramSource(NewConfig(), DefaultSLogger())
	src.RendezvousInterval = 50 * time.Millisecond
	errch := make(chan error, 1)
	go func() {
		errch <- src.Run(ctx, conn, FrameSinkFunc(func(frame *Frame) {
			select {
			case delivered <- frame:
			default:
			}
		}))
	}()

	buf := make([]byte, 64)
	require.NoError(t, producer.SetReadDeadline(time.Now().Add(2*time.Second)))
	count, peer, err := producer.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, RendezvousMessage, buf[:count])

	datagrams, err := SplitFrame(7, []byte("pointcloud"), 3)
	require.NoError(t, err)
	for idx := len(datagrams) - 1; idx >= 0; idx-- {
		_, err := producer.WriteTo(datagrams[idx], peer)
		require.NoError(t, err)
	}

	select {
	case frame := <-delivered:
		assert.Equal(t, "pointcloud", string(frame.Payload))
		assert.Equal(t, uint32(7), frame.FrameID)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	cancel()
	require.ErrorIs(t, <-errch, context.Canceled)
}
