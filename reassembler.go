// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultMaxAssemblyAge is the default age after which an incomplete
// frame assembly is abandoned.
const DefaultMaxAssemblyAge = time.Second

// DefaultMaxAssemblies is the default bound on concurrently incomplete frames.
const DefaultMaxAssemblies = 32

// Reassembler rebuilds frames from unordered, possibly duplicated chunk
// datagrams (see [ChunkHeader] for the wire format).
//
// Frame ids are compared with serial-number arithmetic, so the
// reassembler keeps moving forward across the uint32 wrap. Once a frame
// completes, every datagram for that id or an earlier one is discarded
// and every earlier in-progress assembly is evicted.
//
// A Reassembler is owned by a single receive goroutine and is not safe
// for concurrent use, except for [*Reassembler.Stats].
type Reassembler struct {
	// MaxAssemblyAge bounds how long an incomplete assembly may wait for
	// missing chunks. Zero disables age-based eviction.
	//
	// Set by [NewReassembler] to [DefaultMaxAssemblyAge].
	MaxAssemblyAge time.Duration

	// MaxAssemblies bounds the number of incomplete assemblies. When the
	// bound is reached the oldest assembly is evicted. Zero means no bound.
	//
	// Set by [NewReassembler] to [DefaultMaxAssemblies].
	MaxAssemblies int

	// ResyncAfter, when positive, allows a datagram that would be stale
	// to restart the id sequence once no frame has completed for this
	// long. This recovers from a producer restarting its frame counter
	// without a reconnect. Zero keeps stale datagrams discarded forever.
	ResyncAfter time.Duration

	// TimeNow returns the current time (configurable for testing).
	//
	// Set by [NewReassembler] to [time.Now].
	TimeNow func() time.Time

	assemblies    map[uint32]*frameAssembly
	lastCompleted uint32
	hasCompleted  bool
	completedAt   time.Time

	completed  atomic.Uint64
	malformed  atomic.Uint64
	stale      atomic.Uint64
	duplicates atomic.Uint64
	superseded atomic.Uint64
	expired    atomic.Uint64
	overflowed atomic.Uint64
	resyncs    atomic.Uint64
}

// frameAssembly collects the chunks of a single frame id.
type frameAssembly struct {
	chunks    [][]byte
	present   []bool
	received  int
	size      int
	createdAt time.Time
}

// ReassemblerStats is a snapshot of the reassembler counters.
type ReassemblerStats struct {
	// Completed counts frames promoted to [*Frame].
	Completed uint64

	// Malformed counts datagrams rejected by header validation.
	Malformed uint64

	// Stale counts datagrams at or below the last completed frame id.
	Stale uint64

	// Duplicates counts chunks received more than once.
	Duplicates uint64

	// Superseded counts incomplete assemblies swept by a newer completion.
	Superseded uint64

	// Expired counts incomplete assemblies evicted by age.
	Expired uint64

	// Overflowed counts incomplete assemblies evicted by the size bound.
	Overflowed uint64

	// Resyncs counts restarts of the frame id sequence.
	Resyncs uint64
}

// NewReassembler returns a [*Reassembler] with default bounds.
func NewReassembler() *Reassembler {
	return &Reassembler{
		MaxAssemblyAge: DefaultMaxAssemblyAge,
		MaxAssemblies:  DefaultMaxAssemblies,
		TimeNow:        time.Now,
		assemblies:     make(map[uint32]*frameAssembly),
	}
}

// serialAfter reports whether frame id a comes strictly after b.
func serialAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// Add processes a single datagram.
//
// It returns a non-nil [*Frame] when the datagram completes a frame. It
// returns an error wrapping [ErrMalformedDatagram] or [ErrStaleDatagram]
// when the datagram is discarded; neither is fatal. The datagram buffer
// may be reused by the caller once Add returns.
func (r *Reassembler) Add(datagram []byte) (*Frame, error) {
	hdr, err := decodeChunkHeader(datagram)
	if err != nil {
		r.malformed.Add(1)
		return nil, err
	}

	now := r.TimeNow()
	if r.hasCompleted && !serialAfter(hdr.FrameID, r.lastCompleted) {
		if r.ResyncAfter <= 0 || now.Sub(r.completedAt) < r.ResyncAfter {
			r.stale.Add(1)
			return nil, fmt.Errorf("%w: frame %d, last completed %d", ErrStaleDatagram, hdr.FrameID, r.lastCompleted)
		}
		r.resyncs.Add(1)
		r.hasCompleted = false
		clear(r.assemblies)
	}

	r.evictExpired(now)

	if r.assemblies == nil {
		r.assemblies = make(map[uint32]*frameAssembly)
	}
	asm := r.assemblies[hdr.FrameID]
	if asm == nil {
		if err := hdr.validate(hdr.TotalChunks); err != nil {
			r.malformed.Add(1)
			return nil, err
		}
		r.makeRoom()
		asm = &frameAssembly{
			chunks:    make([][]byte, hdr.TotalChunks),
			present:   make([]bool, hdr.TotalChunks),
			createdAt: now,
		}
		r.assemblies[hdr.FrameID] = asm
	}

	// The first chunk seen for a frame id fixes its chunk count.
	if err := hdr.validate(uint8(len(asm.chunks))); err != nil {
		r.malformed.Add(1)
		return nil, err
	}

	payload := datagram[ChunkHeaderSize:]
	if asm.present[hdr.ChunkIndex] {
		r.duplicates.Add(1)
		asm.size -= len(asm.chunks[hdr.ChunkIndex])
	} else {
		asm.present[hdr.ChunkIndex] = true
		asm.received++
	}
	asm.chunks[hdr.ChunkIndex] = append([]byte(nil), payload...)
	asm.size += len(payload)

	if asm.received < len(asm.chunks) {
		return nil, nil
	}
	return r.complete(hdr.FrameID, asm, now), nil
}

func (r *Reassembler) complete(frameID uint32, asm *frameAssembly, now time.Time) *Frame {
	payload := make([]byte, 0, asm.size)
	for _, chunk := range asm.chunks {
		payload = append(payload, chunk...)
	}

	r.lastCompleted = frameID
	r.hasCompleted = true
	r.completedAt = now
	for id := range r.assemblies {
		if serialAfter(id, frameID) {
			continue
		}
		if id != frameID {
			r.superseded.Add(1)
		}
		delete(r.assemblies, id)
	}
	r.completed.Add(1)

	return &Frame{
		Payload:    payload,
		ReceivedAt: now,
		FrameID:    frameID,
		Network:    "udp",
	}
}

func (r *Reassembler) evictExpired(now time.Time) {
	if r.MaxAssemblyAge <= 0 {
		return
	}
	for id, asm := range r.assemblies {
		if now.Sub(asm.createdAt) > r.MaxAssemblyAge {
			r.expired.Add(1)
			delete(r.assemblies, id)
		}
	}
}

func (r *Reassembler) makeRoom() {
	if r.MaxAssemblies <= 0 {
		return
	}
	for len(r.assemblies) >= r.MaxAssemblies {
		var (
			oldestID  uint32
			oldestAsm *frameAssembly
		)
		for id, asm := range r.assemblies {
			if oldestAsm == nil || asm.createdAt.Before(oldestAsm.createdAt) {
				oldestID, oldestAsm = id, asm
			}
		}
		r.overflowed.Add(1)
		delete(r.assemblies, oldestID)
	}
}

// Pending returns the number of incomplete assemblies.
func (r *Reassembler) Pending() int {
	return len(r.assemblies)
}

// LastCompleted returns the id of the last completed frame, if any.
func (r *Reassembler) LastCompleted() (uint32, bool) {
	return r.lastCompleted, r.hasCompleted
}

// Stats returns a snapshot of the counters. Safe for concurrent use.
func (r *Reassembler) Stats() ReassemblerStats {
	return ReassemblerStats{
		Completed:  r.completed.Load(),
		Malformed:  r.malformed.Load(),
		Stale:      r.stale.Load(),
		Duplicates: r.duplicates.Load(),
		Superseded: r.superseded.Load(),
		Expired:    r.expired.Load(),
		Overflowed: r.overflowed.Load(),
		Resyncs:    r.resyncs.Load(),
	}
}
