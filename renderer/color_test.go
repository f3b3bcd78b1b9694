// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"honnef.co/go/color"
)

func TestPremul32(t *testing.T) {
	assert.Equal(t, [4]float32{0, 0, 0, 0}, Premul32(nil))

	tests := []struct {
		r, g, b, a float64
		want       [4]float32
	}{
		{1, 0.5, 0, 1, [4]float32{1, 0.5, 0, 1}},
		{1, 0.5, 0, 0.5, [4]float32{0.5, 0.25, 0, 0.5}},
		{0.2, 0.4, 0.6, 0, [4]float32{0, 0, 0, 0}},
		// Out of gamut components are clamped.
		{1.5, -0.5, 0.5, 2, [4]float32{1, 0, 0.5, 1}},
	}
	for _, tt := range tests {
		c := color.Make(color.SRGB, tt.r, tt.g, tt.b, tt.a)
		got := Premul32(&c)
		for i := range got {
			assert.InDelta(t, tt.want[i], got[i], 1e-6, "%v component %d", tt, i)
		}
	}
}
