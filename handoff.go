// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import "sync"

// Handoff passes frames from a receive goroutine to a consumer that
// polls at its own rate.
//
// It holds at most capacity frames. When full, a push discards the
// oldest held frame, so a slow consumer always observes recent data and
// the producer never blocks. With the default capacity of one this is a
// latest-wins slot.
//
// A Handoff is safe for concurrent use by one producer and any number
// of consumers.
type Handoff struct {
	mu      sync.Mutex
	frames  []*Frame
	cap     int
	pushed  uint64
	taken   uint64
	dropped uint64
}

// HandoffStats is a snapshot of the [*Handoff] counters.
type HandoffStats struct {
	// Pushed counts frames offered by the producer.
	Pushed uint64

	// Taken counts frames returned to a consumer.
	Taken uint64

	// Dropped counts frames overwritten before any consumer took them.
	Dropped uint64
}

// NewHandoff returns a [*Handoff] holding up to capacity frames. A
// capacity below one is treated as one.
func NewHandoff(capacity int) *Handoff {
	capacity = max(capacity, 1)
	return &Handoff{frames: make([]*Frame, 0, capacity), cap: capacity}
}

var _ FrameSink = &Handoff{}

// Push stores frame, discarding the oldest held frame when full.
// It never blocks on the consumer.
func (h *Handoff) Push(frame *Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushed++
	if len(h.frames) >= h.cap {
		copy(h.frames, h.frames[1:])
		h.frames[len(h.frames)-1] = nil
		h.frames = h.frames[:len(h.frames)-1]
		h.dropped++
	}
	h.frames = append(h.frames, frame)
}

// TryTake removes and returns the oldest held frame, or false when empty.
// It never blocks on the producer beyond the internal lock.
func (h *Handoff) TryTake() (*Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.frames) == 0 {
		return nil, false
	}
	frame := h.frames[0]
	copy(h.frames, h.frames[1:])
	h.frames[len(h.frames)-1] = nil
	h.frames = h.frames[:len(h.frames)-1]
	h.taken++
	return frame, true
}

// Len returns the number of frames currently held.
func (h *Handoff) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// Cap returns the handoff capacity.
func (h *Handoff) Cap() int {
	return h.cap
}

// Reset discards every held frame without counting them as dropped.
func (h *Handoff) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.frames)
	h.frames = h.frames[:0]
}

// Stats returns a snapshot of the counters.
func (h *Handoff) Stats() HandoffStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandoffStats{Pushed: h.pushed, Taken: h.taken, Dropped: h.dropped}
}
