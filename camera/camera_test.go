// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package camera

import (
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/splat/renderer"
)

func TestUniformLayout(t *testing.T) {
	assert.EqualValues(t, UniformSize, unsafe.Sizeof(Uniform{}))
	assert.EqualValues(t, renderer.CameraUniformSize, UniformSize)
	assert.EqualValues(t, 256, unsafe.Offsetof(Uniform{}.Viewport))
	assert.EqualValues(t, 264, unsafe.Offsetof(Uniform{}.Focal))

	c := New(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, 640, 480)
	u := c.Uniform()
	assert.Len(t, u.Bytes(), UniformSize)
}

func TestViewLooksDownNegativeZ(t *testing.T) {
	c := New(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, 640, 480)
	p := c.View().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -5, p.Z(), 1e-5)

	u := c.Uniform()
	pos := u.ViewInv.Col(3)
	assert.InDelta(t, 5, pos.Z(), 1e-5)
}

func TestFocalMatchesProjection(t *testing.T) {
	c := New(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{}, 800, 600)
	// A point 1 unit right of the target, 10 units in front of the camera.
	view := c.View().Mul4x1(mgl32.Vec4{1, 0.5, 0, 1})
	clip := c.Projection().Mul4x1(view)
	ndc := clip.Vec3().Mul(1 / clip.W())

	focal := c.Focal()
	depth := -view.Z()
	// Pixel offsets from the center computed both ways.
	px := ndc.X() * float32(c.Width) / 2
	py := ndc.Y() * float32(c.Height) / 2
	assert.InEpsilon(t, focal.X()*view.X()/depth, px, 1e-4)
	assert.InEpsilon(t, focal.Y()*view.Y()/depth, py, 1e-4)
}

func TestNearFarDepthRange(t *testing.T) {
	c := New(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 100, 100)
	project := func(z float32) float32 {
		clip := c.Projection().Mul4x1(mgl32.Vec4{0, 0, z, 1})
		return clip.Z() / clip.W()
	}
	assert.InDelta(t, -1, project(-c.Near), 1e-4)
	assert.InDelta(t, 1, project(-c.Far), 1e-3)
	assert.Less(t, project(-c.Near/2), float32(-1))
}

func TestReversed(t *testing.T) {
	c := New(mgl32.Vec3{1, 2, 3}, mgl32.Vec3{0, 1, 0}, 100, 100)
	r := c.Reversed()
	assert.Equal(t, mgl32.Vec3{-1, 0, -3}, r.Position)
	assert.Equal(t, c.Target, r.Target)
	// c is left unchanged.
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, c.Position)

	// Two points along the viewing axis swap their depth order.
	near := mgl32.Vec4{0.5, 1.5, 1.5, 1}
	far := mgl32.Vec4{-0.5, 0.5, -1.5, 1}
	depth := func(c *Camera, p mgl32.Vec4) float32 { return -c.View().Mul4x1(p).Z() }
	require.Less(t, depth(c, near), depth(c, far))
	assert.Greater(t, depth(r, near), depth(r, far))
}
