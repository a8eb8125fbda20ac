// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// DefaultMaxFrameSize is the default upper bound on a declared frame length.
const DefaultMaxFrameSize = 16 << 20

// lengthPrefixSize is the size of the little-endian length prefix.
const lengthPrefixSize = 4

// timestampPrefixSize is the size of the optional float64 sender timestamp.
const timestampPrefixSize = 8

// StreamReader extracts length-prefixed frames from a reliable byte stream.
//
// The wire format of each frame is a uint32 little-endian length N
// followed by exactly N bytes of payload. When SenderTimestamp is true,
// each frame is additionally preceded by a float64 little-endian UNIX
// timestamp expressed in seconds.
//
// A StreamReader is bound to a single connection; create a new one after
// reconnecting. It is not safe for concurrent use.
type StreamReader struct {
	// Reader is the underlying byte stream.
	Reader io.Reader

	// MaxFrameSize is the largest accepted declared length.
	//
	// Set by [NewStreamReader] to [DefaultMaxFrameSize].
	MaxFrameSize int

	// SenderTimestamp enables the float64 timestamp prefix.
	SenderTimestamp bool

	// TimeNow returns the current time (configurable for testing).
	//
	// Set by [NewStreamReader] to [time.Now].
	TimeNow func() time.Time

	// header is scratch space reused across ReadFrame calls.
	header [timestampPrefixSize + lengthPrefixSize]byte
}

// NewStreamReader returns a [*StreamReader] reading from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		Reader:       r,
		MaxFrameSize: DefaultMaxFrameSize,
		TimeNow:      time.Now,
	}
}

// ReadFrame blocks until a complete frame is available.
//
// It returns [ErrConnectionClosed] when the stream ends cleanly between
// two frames, [ErrTruncatedFrame] when it ends inside one, and
// [ErrOversizedFrame] or [ErrZeroLengthFrame] on an invalid declared
// length. Other read errors are returned unchanged. No partial frame is
// ever returned.
func (sr *StreamReader) ReadFrame() (*Frame, error) {
	header := sr.header[:lengthPrefixSize]
	if sr.SenderTimestamp {
		header = sr.header[:]
	}
	if err := sr.readHeader(header); err != nil {
		return nil, err
	}

	var sentAt time.Time
	lengthField := header
	if sr.SenderTimestamp {
		sentAt = decodeUnixSeconds(binary.LittleEndian.Uint64(header[:timestampPrefixSize]))
		lengthField = header[timestampPrefixSize:]
	}

	length := binary.LittleEndian.Uint32(lengthField)
	if length == 0 {
		return nil, ErrZeroLengthFrame
	}
	if uint64(length) > uint64(sr.MaxFrameSize) {
		return nil, fmt.Errorf("%w: declared %d bytes, max %d", ErrOversizedFrame, length, sr.MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(sr.Reader, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: payload of %d bytes", ErrTruncatedFrame, length)
		}
		return nil, err
	}

	frame := &Frame{
		Payload:    payload,
		ReceivedAt: sr.TimeNow(),
		SentAt:     sentAt,
		Network:    "tcp",
	}
	return frame, nil
}

func (sr *StreamReader) readHeader(header []byte) error {
	count, err := io.ReadFull(sr.Reader, header)
	switch {
	case err == nil:
		return nil
	case count == 0 && errors.Is(err, io.EOF):
		return ErrConnectionClosed
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: header (%d of %d bytes)", ErrTruncatedFrame, count, len(header))
	default:
		return err
	}
}

// decodeUnixSeconds converts the raw bits of a float64 UNIX timestamp.
func decodeUnixSeconds(bits uint64) time.Time {
	seconds := math.Float64frombits(bits)
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// encodeUnixSeconds is the inverse of decodeUnixSeconds.
func encodeUnixSeconds(t time.Time) uint64 {
	return math.Float64bits(float64(t.UnixNano()) / 1e9)
}
