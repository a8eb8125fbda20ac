// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidPointCloud indicates a frame payload that is not a point cloud.
var ErrInvalidPointCloud = errors.New("rtframe: invalid point cloud")

// RFC 8746 typed array tags.
const (
	cborTagUint8     = 64
	cborTagFloat32LE = 85
)

// PointCloud is the payload of a depth camera frame: positions in meters
// and, optionally, one RGB color per point.
type PointCloud struct {
	Points    [][3]float32
	Colors    [][3]uint8
	Timestamp time.Time
}

// pointCloudWire is the CBOR map carried by a frame. Points and colors
// are flat little-endian typed arrays.
type pointCloudWire struct {
	Points     cbor.Tag  `cbor:"points"`
	Colors     *cbor.Tag `cbor:"colors,omitempty"`
	Timestamp  float64   `cbor:"timestamp"`
	PointCount uint64    `cbor:"point_count"`
}

// MarshalPointCloud encodes pc as a frame payload.
func MarshalPointCloud(pc *PointCloud) ([]byte, error) {
	if len(pc.Colors) != 0 && len(pc.Colors) != len(pc.Points) {
		return nil, fmt.Errorf("%w: %d colors for %d points", ErrInvalidPointCloud, len(pc.Colors), len(pc.Points))
	}
	points := make([]byte, 0, len(pc.Points)*12)
	for _, p := range pc.Points {
		for _, v := range p {
			points = binary.LittleEndian.AppendUint32(points, math.Float32bits(v))
		}
	}
	wire := pointCloudWire{
		Points:     cbor.Tag{Number: cborTagFloat32LE, Content: points},
		PointCount: uint64(len(pc.Points)),
	}
	if !pc.Timestamp.IsZero() {
		wire.Timestamp = math.Float64frombits(encodeUnixSeconds(pc.Timestamp))
	}
	if len(pc.Colors) > 0 {
		colors := make([]byte, 0, len(pc.Colors)*3)
		for _, c := range pc.Colors {
			colors = append(colors, c[:]...)
		}
		wire.Colors = &cbor.Tag{Number: cborTagUint8, Content: colors}
	}
	return cbor.Marshal(wire)
}

// UnmarshalPointCloud decodes a frame payload produced by [MarshalPointCloud].
func UnmarshalPointCloud(payload []byte) (*PointCloud, error) {
	var wire pointCloudWire
	if err := cbor.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPointCloud, err)
	}

	points, err := typedArrayBytes(wire.Points, cborTagFloat32LE)
	if err != nil {
		return nil, err
	}
	if len(points)%12 != 0 || uint64(len(points)/12) != wire.PointCount {
		return nil, fmt.Errorf("%w: %d bytes for %d points", ErrInvalidPointCloud, len(points), wire.PointCount)
	}
	pc := &PointCloud{
		Points:    make([][3]float32, wire.PointCount),
		Timestamp: decodeUnixSeconds(math.Float64bits(wire.Timestamp)),
	}
	for i := range pc.Points {
		for j := range 3 {
			off := i*12 + j*4
			pc.Points[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(points[off : off+4]))
		}
	}

	if wire.Colors == nil {
		return pc, nil
	}
	colors, err := typedArrayBytes(*wire.Colors, cborTagUint8)
	if err != nil {
		return nil, err
	}
	if len(colors)%3 != 0 || uint64(len(colors)/3) != wire.PointCount {
		return nil, fmt.Errorf("%w: %d color bytes for %d points", ErrInvalidPointCloud, len(colors), wire.PointCount)
	}
	pc.Colors = make([][3]uint8, wire.PointCount)
	for i := range pc.Colors {
		copy(pc.Colors[i][:], colors[i*3:i*3+3])
	}
	return pc, nil
}

func typedArrayBytes(tag cbor.Tag, number uint64) ([]byte, error) {
	if tag.Number != number {
		return nil, fmt.Errorf("%w: typed array tag %d, want %d", ErrInvalidPointCloud, tag.Number, number)
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: typed array content %T", ErrInvalidPointCloud, tag.Content)
	}
	return data, nil
}
