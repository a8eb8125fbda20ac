// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"sync"
	"time"
)

// DefaultLatencyWindow is the default number of RTT samples kept.
const DefaultLatencyWindow = 30

// LatencySample is a single round-trip measurement.
type LatencySample struct {
	RTT        time.Duration
	MeasuredAt time.Time
}

// LatencyEstimate summarizes a [*LatencyWindow].
type LatencyEstimate struct {
	// LatestMs is the most recent RTT in milliseconds.
	LatestMs float64

	// AverageMs is the mean RTT over the window in milliseconds.
	AverageMs float64

	// Samples is the number of samples in the window.
	Samples int
}

// LatencyWindow keeps the most recent RTT samples in a ring.
//
// It is safe for concurrent use.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []LatencySample
	next    int
	full    bool
	sum     time.Duration
}

// NewLatencyWindow returns a window holding up to size samples. A size
// below one selects [DefaultLatencyWindow].
func NewLatencyWindow(size int) *LatencyWindow {
	if size < 1 {
		size = DefaultLatencyWindow
	}
	return &LatencyWindow{samples: make([]LatencySample, size)}
}

// Add records sample, replacing the oldest one when the window is full.
func (w *LatencyWindow) Add(sample LatencySample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		w.sum -= w.samples[w.next].RTT
	}
	w.samples[w.next] = sample
	w.sum += sample.RTT
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

// Estimate returns the latest and average RTT, or false when the window
// holds no samples yet.
func (w *LatencyWindow) Estimate() (LatencyEstimate, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := w.next
	if w.full {
		count = len(w.samples)
	}
	if count == 0 {
		return LatencyEstimate{}, false
	}
	latest := w.samples[(w.next-1+len(w.samples))%len(w.samples)]
	return LatencyEstimate{
		LatestMs:  durationMs(latest.RTT),
		AverageMs: durationMs(w.sum) / float64(count),
		Samples:   count,
	}, true
}

// Reset discards every sample.
func (w *LatencyWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.samples)
	w.next, w.full, w.sum = 0, false, 0
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
