// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"math"
	"time"

	"github.com/bassosimone/rtframe"
	"github.com/bassosimone/runtimex"
)

// generator builds synthetic frame payloads.
type generator struct {
	points int
	size   int
}

func newGenerator(size, points int) *generator {
	return &generator{points: points, size: max(size, 16)}
}

// next returns the payload of frame n: a point cloud when points is
// set, otherwise a JPEG-like blob that starts with the frame number.
func (g *generator) next(n uint64) []byte {
	if g.points > 0 {
		return g.pointCloud(n)
	}
	payload := make([]byte, g.size)
	copy(payload, []byte{0xff, 0xd8})
	copy(payload[2:], fmt.Sprintf("frame %d", n))
	for i := 16; i < len(payload); i++ {
		payload[i] = byte(n + uint64(i))
	}
	return payload
}

// pointCloud returns a rotating ring of points.
func (g *generator) pointCloud(n uint64) []byte {
	pc := &rtframe.PointCloud{
		Points:    make([][3]float32, g.points),
		Colors:    make([][3]uint8, g.points),
		Timestamp: time.Now(),
	}
	phase := float64(n) / 30
	for i := range pc.Points {
		angle := phase + 2*math.Pi*float64(i)/float64(g.points)
		pc.Points[i] = [3]float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 2}
		pc.Colors[i] = [3]uint8{uint8(i), uint8(n), 128}
	}
	return runtimex.PanicOnError1(rtframe.MarshalPointCloud(pc))
}
