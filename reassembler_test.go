// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunk builds a single chunk datagram.
func chunk(frameID uint32, index, total uint8, payload string) []byte {
	return AppendChunk(nil, ChunkHeader{FrameID: frameID, ChunkIndex: index, TotalChunks: total}, []byte(payload))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// newTestReassembler returns a reassembler driven by clock.
func newTestReassembler(clock *fakeClock) *Reassembler {
	r := NewReassembler()
	r.TimeNow = clock.Now
	return r
}

// Chunks arriving as 2, 0, 1 are concatenated in index order.
func TestReassemblerOutOfOrder(t *testing.T) {
	r := newTestReassembler(newFakeClock())

	frame, err := r.Add(chunk(7, 2, 3, "A"))
	require.NoError(t, err)
	assert.Nil(t, frame)

	frame, err = r.Add(chunk(7, 0, 3, "B"))
	require.NoError(t, err)
	assert.Nil(t, frame)

	frame, err = r.Add(chunk(7, 1, 3, "C"))
	require.NoError(t, err)
	require.NotNil(t, frame)

	assert.Equal(t, []byte("BCA"), frame.Payload)
	assert.Equal(t, uint32(7), frame.FrameID)
	assert.Equal(t, "udp", frame.Network)
	assert.Equal(t, 0, r.Pending())
	last, ok := r.LastCompleted()
	require.True(t, ok)
	assert.Equal(t, uint32(7), last)
}

// Every arrival permutation of a chunk set yields the same payload.
func TestReassemblerPermutationInvariance(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 5)
	datagrams, err := SplitFrame(42, payload, 13)
	require.NoError(t, err)
	require.Len(t, datagrams, 4)

	var permute func(items [][]byte, k int, visit func([][]byte))
	permute = func(items [][]byte, k int, visit func([][]byte)) {
		if k == len(items) {
			visit(items)
			return
		}
		for i := k; i < len(items); i++ {
			items[k], items[i] = items[i], items[k]
			permute(items, k+1, visit)
			items[k], items[i] = items[i], items[k]
		}
	}

	count := 0
	permute(datagrams, 0, func(order [][]byte) {
		count++
		r := newTestReassembler(newFakeClock())
		var got *Frame
		for idx, datagram := range order {
			frame, err := r.Add(datagram)
			require.NoError(t, err)
			if idx < len(order)-1 {
				require.Nil(t, frame, "premature completion")
				continue
			}
			got = frame
		}
		require.NotNil(t, got)
		if diff := cmp.Diff(payload, got.Payload); diff != "" {
			t.Fatalf("payload mismatch (-want +got):\n%s", diff)
		}
	})
	assert.Equal(t, 24, count)
}

// A late datagram for an earlier frame is discarded without state changes.
func TestReassemblerDiscardsLateDatagram(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	for _, d := range [][]byte{chunk(7, 0, 2, "x"), chunk(7, 1, 2, "y")} {
		_, err := r.Add(d)
		require.NoError(t, err)
	}

	frame, err := r.Add(chunk(5, 0, 1, "late"))

	require.ErrorIs(t, err, ErrStaleDatagram)
	assert.Nil(t, frame)
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, uint64(1), r.Stats().Stale)
}

// A completed frame is never delivered twice.
func TestReassemblerNoResurrection(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	_, err := r.Add(chunk(9, 0, 1, "once"))
	require.NoError(t, err)

	for _, d := range [][]byte{chunk(9, 0, 1, "once"), chunk(9, 0, 2, "again"), chunk(8, 1, 2, "old")} {
		frame, err := r.Add(d)
		require.ErrorIs(t, err, ErrStaleDatagram)
		require.Nil(t, frame)
	}
	assert.Equal(t, uint64(1), r.Stats().Completed)
}

// N-1 distinct chunks, even repeated, never produce a frame.
func TestReassemblerNoPartialPromotion(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	for range 3 {
		for _, idx := range []uint8{0, 1, 3} {
			frame, err := r.Add(chunk(11, idx, 4, "z"))
			require.NoError(t, err)
			require.Nil(t, frame)
		}
	}
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, uint64(6), r.Stats().Duplicates)
	assert.Equal(t, uint64(0), r.Stats().Completed)
}

// A re-received chunk overwrites the stored one without double counting.
func TestReassemblerDuplicateOverwrites(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	_, err := r.Add(chunk(3, 0, 2, "old"))
	require.NoError(t, err)
	_, err = r.Add(chunk(3, 0, 2, "new"))
	require.NoError(t, err)

	frame, err := r.Add(chunk(3, 1, 2, "!"))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("new!"), frame.Payload)
}

// The first chunk's total wins; later conflicting totals are ignored.
func TestReassemblerFirstTotalWins(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	_, err := r.Add(chunk(4, 0, 2, "a"))
	require.NoError(t, err)

	// Index 2 is valid for total 5 but not for the recorded total 2.
	_, err = r.Add(chunk(4, 2, 5, "c"))
	require.ErrorIs(t, err, ErrMalformedDatagram)

	frame, err := r.Add(chunk(4, 1, 5, "b"))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("ab"), frame.Payload)
}

// Completing a frame sweeps every earlier in-progress assembly.
func TestReassemblerSweepOnCompletion(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	for _, d := range [][]byte{chunk(1, 0, 2, "a"), chunk(2, 0, 2, "b"), chunk(4, 0, 2, "d")} {
		_, err := r.Add(d)
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Pending())

	frame, err := r.Add(chunk(3, 0, 1, "c"))
	require.NoError(t, err)
	require.NotNil(t, frame)

	// Frame 4 survives; frames 1 and 2 are gone and cannot come back.
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, uint64(2), r.Stats().Superseded)
	_, err = r.Add(chunk(2, 1, 2, "b"))
	require.ErrorIs(t, err, ErrStaleDatagram)

	frame, err = r.Add(chunk(4, 1, 2, "D"))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("dD"), frame.Payload)
}

// Malformed datagrams are counted and rejected.
func TestReassemblerMalformed(t *testing.T) {
	tests := []struct {
		// name describes the case.
		name string

		// datagram is the raw input.
		datagram []byte
	}{
		{name: "empty", datagram: nil},
		{name: "short header", datagram: []byte{1, 0, 0, 0, 0}},
		{name: "zero total", datagram: chunk(1, 0, 0, "x")},
		{name: "index beyond total", datagram: chunk(1, 3, 3, "x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReassembler(newFakeClock())
			frame, err := r.Add(tt.datagram)
			require.ErrorIs(t, err, ErrMalformedDatagram)
			assert.Nil(t, frame)
			assert.Equal(t, 0, r.Pending())
			assert.Equal(t, uint64(1), r.Stats().Malformed)
		})
	}
}

// A header-only datagram is a valid empty chunk.
func TestReassemblerEmptyChunk(t *testing.T) {
	r := newTestReassembler(newFakeClock())
	_, err := r.Add(chunk(1, 0, 2, "abc"))
	require.NoError(t, err)
	frame, err := r.Add(chunk(1, 1, 2, ""))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("abc"), frame.Payload)
}

// Stuck assemblies are evicted once older than MaxAssemblyAge.
func TestReassemblerAgeEviction(t *testing.T) {
	clock := newFakeClock()
	r := newTestReassembler(clock)
	r.MaxAssemblyAge = 100 * time.Millisecond

	_, err := r.Add(chunk(1, 0, 2, "a"))
	require.NoError(t, err)
	clock.Advance(150 * time.Millisecond)

	_, err = r.Add(chunk(2, 0, 2, "b"))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, uint64(1), r.Stats().Expired)

	// The evicted frame restarts from scratch if its chunks keep coming.
	frame, err := r.Add(chunk(1, 1, 2, "A"))
	require.NoError(t, err)
	assert.Nil(t, frame)
}

// The table never exceeds MaxAssemblies; the oldest entry goes first.
func TestReassemblerBoundedTable(t *testing.T) {
	clock := newFakeClock()
	r := newTestReassembler(clock)
	r.MaxAssemblies = 3

	for id := uint32(1); id <= 5; id++ {
		_, err := r.Add(chunk(id, 0, 2, "x"))
		require.NoError(t, err)
		require.LessOrEqual(t, r.Pending(), 3)
		clock.Advance(time.Millisecond)
	}
	assert.Equal(t, uint64(2), r.Stats().Overflowed)

	// Frame 1 was the oldest and has been evicted.
	frame, err := r.Add(chunk(1, 1, 2, "y"))
	require.NoError(t, err)
	assert.Nil(t, frame)
	frame, err = r.Add(chunk(5, 1, 2, "y"))
	require.NoError(t, err)
	require.NotNil(t, frame)
}

// Frame ids keep moving forward across the uint32 wrap.
func TestReassemblerWraparound(t *testing.T) {
	r := newTestReassembler(newFakeClock())

	frame, err := r.Add(chunk(math.MaxUint32, 0, 1, "last"))
	require.NoError(t, err)
	require.NotNil(t, frame)

	frame, err = r.Add(chunk(0, 0, 1, "first"))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("first"), frame.Payload)

	_, err = r.Add(chunk(math.MaxUint32, 0, 1, "late"))
	require.ErrorIs(t, err, ErrStaleDatagram)
}

// With ResyncAfter set, a restarted producer is accepted after a quiet period.
func TestReassemblerResync(t *testing.T) {
	clock := newFakeClock()
	r := newTestReassembler(clock)
	r.ResyncAfter = time.Second

	_, err := r.Add(chunk(1000, 0, 1, "before"))
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)
	_, err = r.Add(chunk(0, 0, 1, "restart"))
	require.ErrorIs(t, err, ErrStaleDatagram)

	clock.Advance(time.Second)
	frame, err := r.Add(chunk(0, 0, 1, "restart"))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("restart"), frame.Payload)
	assert.Equal(t, uint64(1), r.Stats().Resyncs)
}

// SplitFrame refuses payloads that need more than 255 chunks.
func TestSplitFrameLimits(t *testing.T) {
	_, err := SplitFrame(1, make([]byte, 256), 1)
	require.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = SplitFrame(1, nil, 10)
	require.ErrorIs(t, err, ErrZeroLengthFrame)

	datagrams, err := SplitFrame(1, make([]byte, 255), 1)
	require.NoError(t, err)
	assert.Len(t, datagrams, 255)

	hdr, payload, err := ParseChunk(datagrams[254])
	require.NoError(t, err)
	assert.Equal(t, ChunkHeader{FrameID: 1, ChunkIndex: 254, TotalChunks: 255}, hdr)
	assert.Len(t, payload, 1)
}
