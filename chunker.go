// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"encoding/binary"
	"fmt"
)

// ChunkHeaderSize is the size of the datagram chunk header.
const ChunkHeaderSize = 6

// MaxChunksPerFrame is the largest chunk count the header can express.
const MaxChunksPerFrame = 255

// DefaultChunkSize is the default payload bytes per datagram.
const DefaultChunkSize = 8192

// ChunkHeader is the header of a chunk datagram.
//
// The wire layout is uint32 little-endian FrameID, uint8 ChunkIndex,
// uint8 TotalChunks, followed by the raw chunk bytes.
type ChunkHeader struct {
	FrameID     uint32
	ChunkIndex  uint8
	TotalChunks uint8
}

// ParseChunk splits a datagram into header and payload. The payload
// aliases datagram.
func ParseChunk(datagram []byte) (ChunkHeader, []byte, error) {
	hdr, err := decodeChunkHeader(datagram)
	if err != nil {
		return ChunkHeader{}, nil, err
	}
	if err := hdr.validate(hdr.TotalChunks); err != nil {
		return ChunkHeader{}, nil, err
	}
	return hdr, datagram[ChunkHeaderSize:], nil
}

func decodeChunkHeader(datagram []byte) (ChunkHeader, error) {
	if len(datagram) < ChunkHeaderSize {
		return ChunkHeader{}, fmt.Errorf("%w: %d bytes", ErrMalformedDatagram, len(datagram))
	}
	hdr := ChunkHeader{
		FrameID:     binary.LittleEndian.Uint32(datagram[0:4]),
		ChunkIndex:  datagram[4],
		TotalChunks: datagram[5],
	}
	return hdr, nil
}

// validate checks the chunk index against the given chunk count, which
// is the count recorded for the frame rather than the one in hdr.
func (hdr ChunkHeader) validate(total uint8) error {
	if total == 0 || hdr.ChunkIndex >= total {
		return fmt.Errorf("%w: chunk %d of %d", ErrMalformedDatagram, hdr.ChunkIndex, total)
	}
	return nil
}

// AppendChunk appends the encoded header and payload to buf.
func AppendChunk(buf []byte, hdr ChunkHeader, payload []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, hdr.FrameID)
	buf = append(buf, hdr.ChunkIndex, hdr.TotalChunks)
	return append(buf, payload...)
}

// SplitFrame splits payload into chunk datagrams of at most chunkSize
// payload bytes each, ready to be sent in index order.
//
// It returns [ErrFrameTooLarge] when more than [MaxChunksPerFrame]
// chunks would be needed.
func SplitFrame(frameID uint32, payload []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(payload) == 0 {
		return nil, ErrZeroLengthFrame
	}
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total > MaxChunksPerFrame {
		return nil, fmt.Errorf("%w: %d bytes need %d chunks of %d", ErrFrameTooLarge, len(payload), total, chunkSize)
	}
	datagrams := make([][]byte, 0, total)
	for idx := 0; idx < total; idx++ {
		start := idx * chunkSize
		end := min(start+chunkSize, len(payload))
		hdr := ChunkHeader{FrameID: frameID, ChunkIndex: uint8(idx), TotalChunks: uint8(total)}
		datagram := AppendChunk(make([]byte, 0, ChunkHeaderSize+end-start), hdr, payload[start:end])
		datagrams = append(datagrams, datagram)
	}
	return datagrams, nil
}
