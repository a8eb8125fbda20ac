// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeqFrame(seq uint64) *Frame {
	return &Frame{Seq: seq, Payload: []byte{byte(seq)}}
}

// With capacity one the consumer only ever sees the newest frame.
func TestHandoffLatestWins(t *testing.T) {
	h := NewHandoff(1)

	h.Push(newSeqFrame(1))
	h.Push(newSeqFrame(2))

	frame, ok := h.TryTake()
	require.True(t, ok)
	assert.Equal(t, uint64(2), frame.Seq)

	_, ok = h.TryTake()
	assert.False(t, ok)

	assert.Equal(t, HandoffStats{Pushed: 2, Taken: 1, Dropped: 1}, h.Stats())
}

// Capacities below one are clamped.
func TestHandoffClampsCapacity(t *testing.T) {
	for _, capacity := range []int{-3, 0, 1} {
		h := NewHandoff(capacity)
		assert.Equal(t, 1, h.Cap())
	}
}

// A larger capacity keeps the newest frames and hands out the oldest first.
func TestHandoffBoundedQueue(t *testing.T) {
	h := NewHandoff(3)
	for seq := uint64(1); seq <= 5; seq++ {
		h.Push(newSeqFrame(seq))
		require.LessOrEqual(t, h.Len(), 3)
	}

	var got []uint64
	for {
		frame, ok := h.TryTake()
		if !ok {
			break
		}
		got = append(got, frame.Seq)
	}
	assert.Equal(t, []uint64{3, 4, 5}, got)
	assert.Equal(t, uint64(2), h.Stats().Dropped)
}

// An empty handoff reports no frame.
func TestHandoffEmpty(t *testing.T) {
	h := NewHandoff(1)
	frame, ok := h.TryTake()
	assert.False(t, ok)
	assert.Nil(t, frame)
}

// Reset empties the handoff.
func TestHandoffReset(t *testing.T) {
	h := NewHandoff(2)
	h.Push(newSeqFrame(1))
	h.Push(newSeqFrame(2))
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, uint64(0), h.Stats().Dropped)
}

// Concurrent producer and consumer observe increasing sequence numbers
// and every pushed frame is accounted for.
func TestHandoffConcurrent(t *testing.T) {
	const total = 10000
	h := NewHandoff(1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= total; seq++ {
			h.Push(newSeqFrame(seq))
		}
	}()

	var last uint64
	for last < total {
		frame, ok := h.TryTake()
		if !ok {
			continue
		}
		require.Greater(t, frame.Seq, last)
		last = frame.Seq
	}
	wg.Wait()

	stats := h.Stats()
	assert.Equal(t, uint64(total), stats.Pushed)
	assert.Equal(t, stats.Pushed, stats.Taken+stats.Dropped+uint64(h.Len()))
}
