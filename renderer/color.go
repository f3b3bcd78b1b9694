// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/color"
)

// Premul32 converts c to premultiplied sRGB components, the space the splat
// colors are blended in.
func Premul32(c *color.Color) [4]float32 {
	if c == nil {
		return [4]float32{0, 0, 0, 0}
	}
	cc := c.Convert(color.SRGB)
	r := clamp01(cc.Values[0])
	g := clamp01(cc.Values[1])
	b := clamp01(cc.Values[2])
	a := clamp01(cc.Values[3])

	return [4]float32{
		float32(r * a),
		float32(g * a),
		float32(b * a),
		float32(a),
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
