// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidPreamble indicates a first stream frame that is not a
// well-formed field-of-view preamble.
var ErrInvalidPreamble = errors.New("rtframe: invalid field-of-view preamble")

// FieldOfView is the camera field of view in degrees, which a stereo
// producer announces once per connection before the first image.
type FieldOfView struct {
	Horizontal float64
	Vertical   float64
}

// ParseFieldOfView parses the "hfov,vfov" ASCII preamble.
//
// The preamble is an ordinary length-prefixed frame that never carries
// a sender timestamp, even when the following frames do.
func ParseFieldOfView(payload []byte) (FieldOfView, error) {
	hs, vs, found := strings.Cut(strings.TrimSpace(string(payload)), ",")
	if !found {
		return FieldOfView{}, fmt.Errorf("%w: %q", ErrInvalidPreamble, payload)
	}
	h, herr := strconv.ParseFloat(strings.TrimSpace(hs), 64)
	v, verr := strconv.ParseFloat(strings.TrimSpace(vs), 64)
	if err := errors.Join(herr, verr); err != nil {
		return FieldOfView{}, fmt.Errorf("%w: %w", ErrInvalidPreamble, err)
	}
	fov := FieldOfView{Horizontal: h, Vertical: v}
	if !fov.valid() {
		return FieldOfView{}, fmt.Errorf("%w: %v", ErrInvalidPreamble, fov)
	}
	return fov, nil
}

func (fov FieldOfView) valid() bool {
	inRange := func(deg float64) bool {
		return !math.IsNaN(deg) && deg > 0 && deg < 360
	}
	return inRange(fov.Horizontal) && inRange(fov.Vertical)
}

// Encode returns the preamble payload for fov.
func (fov FieldOfView) Encode() []byte {
	return fmt.Appendf(nil, "%s,%s",
		strconv.FormatFloat(fov.Horizontal, 'g', -1, 64),
		strconv.FormatFloat(fov.Vertical, 'g', -1, 64))
}

// String implements [fmt.Stringer].
func (fov FieldOfView) String() string {
	return fmt.Sprintf("%.2fx%.2f", fov.Horizontal, fov.Vertical)
}
