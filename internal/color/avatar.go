// Package color derives placeholder avatar colors for reviewers without an
// avatar image.
package color

import (
	"fmt"
	"hash/fnv"
	"math"
)

// Fixed saturation and lightness keep white initials readable on every hue.
const (
	avatarSaturation = 0.45
	avatarLightness  = 0.55
)

// ForUser returns the avatar color of userID as "#RRGGBB". The same ID
// always maps to the same color.
func ForUser(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	hue := float64(h.Sum32() % 360)

	r, g, b := hslToRGB(hue, avatarSaturation, avatarLightness)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// hslToRGB converts a hue in degrees and saturation and lightness in [0,1]
// to 8-bit RGB.
func hslToRGB(hue, s, l float64) (r, g, b uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(hue/60, 2)-1))
	m := l - c/2

	var r1, g1, b1 float64
	switch {
	case hue < 60:
		r1, g1, b1 = c, x, 0
	case hue < 120:
		r1, g1, b1 = x, c, 0
	case hue < 180:
		r1, g1, b1 = 0, c, x
	case hue < 240:
		r1, g1, b1 = 0, x, c
	case hue < 300:
		r1, g1, b1 = x, 0, c
	default:
		r1, g1, b1 = c, 0, x
	}

	scale := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return scale(r1), scale(g1), scale(b1)
}
