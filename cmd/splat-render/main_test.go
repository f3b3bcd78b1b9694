// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	c, err := parseColor("")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, s := range []string{"#abc", "red", "#12345g", "#1234567"} {
		_, err := parseColor(s)
		assert.Error(t, err, s)
	}

	c, err = parseColor("#ff000080")
	require.NoError(t, err)
	assert.InDelta(t, 1, c.Values[0], 1e-9)
	assert.InDelta(t, 0, c.Values[1], 1e-9)
	assert.InDelta(t, 128.0/255, c.Values[3], 1e-9)

	c, err = parseColor("00ff00")
	require.NoError(t, err)
	assert.InDelta(t, 1, c.Values[1], 1e-9)
	assert.InDelta(t, 1, c.Values[3], 1e-9)
}

func TestRender(t *testing.T) {
	cfg := config{
		n:      500,
		seed:   3,
		width:  40,
		height: 30,
		scale:  1,
		ssaa:   2,
		bg:     "#000000",
		radius: 1,
		dist:   3.5,
	}
	img, timings, err := render(&cfg)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
	assert.False(t, timings.EndTime.IsZero())

	// An opaque background leaves every pixel opaque.
	var lit bool
	for i := 0; i < len(img.Pix); i += 4 {
		require.EqualValues(t, 255, img.Pix[i+3])
		if img.Pix[i] != 0 || img.Pix[i+1] != 0 || img.Pix[i+2] != 0 {
			lit = true
		}
	}
	assert.True(t, lit)

	cfg.n = 0
	_, _, err = render(&cfg)
	assert.Error(t, err)
}
