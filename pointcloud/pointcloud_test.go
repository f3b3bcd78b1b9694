// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package pointcloud

import (
	"math"
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/splat/smath"
)

func testGaussian() Gaussian {
	g := Gaussian{
		Position: mgl32.Vec3{1, -2, 3.5},
		Opacity:  0.75,
		Rotation: mgl32.Quat{W: 1, V: mgl32.Vec3{0, 0, 0}},
		Scale:    mgl32.Vec3{0.5, 0.25, 0.125},
	}
	for c := range g.SH {
		g.SH[c] = mgl32.Vec3{float32(c), float32(c) + 0.5, -float32(c)}
	}
	return g
}

func TestPackedSizes(t *testing.T) {
	assert.EqualValues(t, 24, unsafe.Sizeof(PackedGaussian{}))
	assert.EqualValues(t, 96, unsafe.Sizeof(PackedSH{}))
}

func TestPack(t *testing.T) {
	g := testGaussian()
	p := g.Pack()

	x, y := smath.Unpack2x16(p.PosOpacity[0])
	z, o := smath.Unpack2x16(p.PosOpacity[1])
	assert.Equal(t, []float32{1, -2, 3.5, 0.75}, []float32{x, y, z, o})

	w, rx := smath.Unpack2x16(p.Rot[0])
	ry, rz := smath.Unpack2x16(p.Rot[1])
	assert.Equal(t, []float32{1, 0, 0, 0}, []float32{w, rx, ry, rz})

	sx, sy := smath.Unpack2x16(p.Scale[0])
	sz, pad := smath.Unpack2x16(p.Scale[1])
	assert.Equal(t, []float32{0.5, 0.25, 0.125, 0}, []float32{sx, sy, sz, pad})
}

func TestPackSH(t *testing.T) {
	g := testGaussian()
	unpack := func(sh PackedSH) []float32 {
		var out []float32
		for _, w := range sh {
			a, b := smath.Unpack2x16(w)
			out = append(out, a, b)
		}
		return out
	}

	halves := unpack(g.PackSH(3))
	for c := range NumSHCoeffs {
		assert.Equal(t, []float32{float32(c), float32(c) + 0.5, -float32(c)}, halves[c*3:c*3+3], "coefficient %d", c)
	}

	// Degree 1 keeps the first four coefficients.
	halves = unpack(g.PackSH(1))
	assert.Equal(t, []float32{3, 3.5, -3}, halves[9:12])
	for _, v := range halves[12:] {
		assert.Zero(t, v)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(pc *PointCloud)
	}{
		{"degree", func(pc *PointCloud) { pc.SHDegree = 4 }},
		{"negative degree", func(pc *PointCloud) { pc.SHDegree = -1 }},
		{"opacity", func(pc *PointCloud) { pc.Gaussians[0].Opacity = 1.5 }},
		{"nan opacity", func(pc *PointCloud) { pc.Gaussians[0].Opacity = float32(math.NaN()) }},
		{"position", func(pc *PointCloud) { pc.Gaussians[0].Position[1] = float32(math.Inf(1)) }},
		{"position beyond f16", func(pc *PointCloud) { pc.Gaussians[0].Position[0] = 1e5 }},
		{"scale", func(pc *PointCloud) { pc.Gaussians[0].Scale[2] = -1 }},
		{"scale beyond f16", func(pc *PointCloud) { pc.Gaussians[0].Scale[0] = 7e4 }},
		{"spherical harmonics beyond f16", func(pc *PointCloud) { pc.Gaussians[0].SH[15][1] = -1e6 }},
		{"rotation", func(pc *PointCloud) { pc.Gaussians[0].Rotation = mgl32.Quat{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := &PointCloud{Gaussians: []Gaussian{testGaussian()}, SHDegree: 3}
			require.NoError(t, pc.Validate())
			tt.modify(pc)
			assert.ErrorIs(t, pc.Validate(), ErrInvalid)
		})
	}
}

func TestValidateHalfRange(t *testing.T) {
	pc := &PointCloud{Gaussians: []Gaussian{testGaussian()}, SHDegree: 0}
	g := &pc.Gaussians[0]
	g.Position = mgl32.Vec3{smath.MaxFloat16, -smath.MaxFloat16, 0}
	g.Scale = mgl32.Vec3{smath.MaxFloat16, 0, 1}
	// Coefficients above the stored degree aren't packed.
	g.SH[5] = mgl32.Vec3{1e9, 0, 0}
	require.NoError(t, pc.Validate())

	p := g.Pack()
	x, y := smath.Unpack2x16(p.PosOpacity[0])
	assert.Equal(t, float32(smath.MaxFloat16), x)
	assert.Equal(t, float32(-smath.MaxFloat16), y)

	pc.SHDegree = 2
	assert.ErrorIs(t, pc.Validate(), ErrInvalid)
}

func TestUpload(t *testing.T) {
	var rec renderer.Recording
	_, err := (&PointCloud{}).Upload(&rec)
	assert.ErrorIs(t, err, renderer.ErrEmptyPointCloud)
	assert.Empty(t, rec.Commands)

	pc := Random(rand.New(rand.NewPCG(1, 2)), 10, 5)
	cloud, err := pc.Upload(&rec)
	require.NoError(t, err)
	assert.EqualValues(t, 10, cloud.NumPoints)
	assert.EqualValues(t, 0, cloud.SHDegree)
	assert.EqualValues(t, 10*24, cloud.Gaussians.Size)
	assert.EqualValues(t, 10*96, cloud.SH.Size)
	require.Len(t, rec.Commands, 2)
	assert.Equal(t, cloud.Gaussians, rec.Commands[0].(*renderer.Upload).Buffer)
	assert.Equal(t, cloud.SH, rec.Commands[1].(*renderer.Upload).Buffer)
}

func TestRandom(t *testing.T) {
	pc := Random(rand.New(rand.NewPCG(3, 4)), 500, 2)
	require.Equal(t, 500, pc.Len())
	require.NoError(t, pc.Validate())
	for _, g := range pc.Gaussians {
		assert.LessOrEqual(t, g.Position.Len(), float32(2.0001))
		assert.InDelta(t, 1, g.Rotation.Len(), 1e-4)
	}
}

func TestDCFromColor(t *testing.T) {
	dc := DCFromColor(mgl32.Vec3{0.5, 1, 0})
	const c0 = 0.28209479177387814
	assert.InDelta(t, 0.5, c0*dc[0]+0.5, 1e-6)
	assert.InDelta(t, 1, c0*dc[1]+0.5, 1e-6)
	assert.InDelta(t, 0, c0*dc[2]+0.5, 1e-6)
}
