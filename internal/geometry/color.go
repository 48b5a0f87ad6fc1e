package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Color is a paint color in both its display and render forms.
type Color struct {
	// Hex is the normalized "#rrggbb" form.
	Hex string
	// Linear holds linear-light RGB for a glTF base color factor.
	Linear [3]float64
}

// ParseColor accepts "#rgb" or "#rrggbb", with or without the leading '#',
// in any letter case.
func ParseColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Color{}, fmt.Errorf("geometry: invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("geometry: invalid color %q", s)
	}

	c := Color{Hex: "#" + strings.ToLower(h)}
	for i, shift := range []uint{16, 8, 0} {
		c.Linear[i] = srgbToLinear(float64((v>>shift)&0xff) / 255)
	}
	return c, nil
}

// Factor returns the base color factor for the color with the given alpha.
func (c Color) Factor(alpha float64) [4]float64 {
	return [4]float64{c.Linear[0], c.Linear[1], c.Linear[2], alpha}
}

func srgbToLinear(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}
