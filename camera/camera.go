// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package camera computes the view and projection uniform that the splat
// kernels read.
package camera

import (
	"math"
	"structs"

	"github.com/go-gl/mathgl/mgl32"
	"honnef.co/go/safeish"
)

// Camera is a perspective pinhole camera. The view space is right-handed
// with the camera looking down -Z, and the projection maps depth to [-1, 1].
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3
	// Vertical field of view in radians.
	FovY float32
	Near float32
	Far  float32
	// Size of the target in pixels.
	Width  uint32
	Height uint32
}

// New returns a camera at position looking at target, with Y up and a 45°
// vertical field of view.
func New(position, target mgl32.Vec3, width, height uint32) *Camera {
	return &Camera{
		Position: position,
		Target:   target,
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     mgl32.DegToRad(45),
		Near:     0.1,
		Far:      1000,
		Width:    width,
		Height:   height,
	}
}

func (c *Camera) Aspect() float32 {
	return float32(c.Width) / float32(c.Height)
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Target, c.Up)
}

func (c *Camera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(c.FovY, c.Aspect(), c.Near, c.Far)
}

// Focal returns the focal length in pixels along both axes.
func (c *Camera) Focal() mgl32.Vec2 {
	f := float32(float64(c.Height) / (2 * math.Tan(float64(c.FovY)/2)))
	return mgl32.Vec2{f, f}
}

// Reversed returns a copy of the camera moved to the opposite side of its
// target, still looking at the target.
func (c *Camera) Reversed() *Camera {
	out := *c
	out.Position = c.Target.Add(c.Target.Sub(c.Position))
	return &out
}

// UniformSize is the size of Uniform in bytes.
const UniformSize = 272

// Uniform is the camera as the kernels see it.
//
// This data structure must be kept in sync with the definition in
// `shaders/wgsl/shared/camera.wgsl`.
type Uniform struct {
	_ structs.HostLayout

	View     mgl32.Mat4
	ViewInv  mgl32.Mat4
	Proj     mgl32.Mat4
	ProjInv  mgl32.Mat4
	Viewport mgl32.Vec2
	Focal    mgl32.Vec2
}

func (c *Camera) Uniform() Uniform {
	view := c.View()
	proj := c.Projection()
	return Uniform{
		View:     view,
		ViewInv:  view.Inv(),
		Proj:     proj,
		ProjInv:  proj.Inv(),
		Viewport: mgl32.Vec2{float32(c.Width), float32(c.Height)},
		Focal:    c.Focal(),
	}
}

// Bytes returns the uniform's memory. It aliases u.
func (u *Uniform) Bytes() []byte {
	return safeish.AsBytes(u)
}
