// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// StreamWriter is the producer side of the length-prefixed stream
// protocol read by [*StreamReader].
//
// It is not safe for concurrent use.
type StreamWriter struct {
	// Writer is the underlying byte stream.
	Writer io.Writer

	// SenderTimestamp prepends the float64 UNIX timestamp to each frame.
	SenderTimestamp bool

	// TimeNow returns the current time (configurable for testing).
	//
	// Set by [NewStreamWriter] to [time.Now].
	TimeNow func() time.Time
}

// NewStreamWriter returns a [*StreamWriter] writing to w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{Writer: w, TimeNow: time.Now}
}

// WriteFrame writes payload as a single frame using a single Write call,
// so that concurrent writers to distinct connections never interleave
// a header with a foreign payload.
func (sw *StreamWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrZeroLengthFrame
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrFrameTooLarge
	}
	var prefix []byte
	if sw.SenderTimestamp {
		prefix = binary.LittleEndian.AppendUint64(prefix, encodeUnixSeconds(sw.TimeNow()))
	}
	prefix = binary.LittleEndian.AppendUint32(prefix, uint32(len(payload)))
	buf := make([]byte, 0, len(prefix)+len(payload))
	buf = append(buf, prefix...)
	buf = append(buf, payload...)
	_, err := sw.Writer.Write(buf)
	return err
}
