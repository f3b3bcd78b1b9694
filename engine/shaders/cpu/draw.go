// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"image"
	"math"

	"honnef.co/go/curve"
	"honnef.co/go/splat/camera"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/splat/smath"
)

// Clear fills target with a premultiplied color.
func Clear(target *image.RGBA, c [4]float32) {
	px := [4]uint8{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])}
	b := target.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			off := target.PixOffset(x, y)
			copy(target.Pix[off:off+4], px[:])
		}
	}
}

// Draw rasterizes the splat quads of the instances described by args into
// target, in instance order. It blends like the render pipeline: color is
// src*alpha + dst*(1-alpha) and alpha is alpha + dst*(1-alpha).
//
// Pixels are covered when their center lies inside a quad, with the top and
// left edges inclusive.
func Draw(target *image.RGBA, args renderer.IndirectDrawArgs, resources []CPUBinding) {
	cam := fromBytes[camera.Uniform](resources[0].(CPUBuffer))
	points := sliceOf[renderer.SplatRecord](resources[2])
	indices := sliceOf[uint32](resources[3])

	if args.VertexCount < renderer.VerticesPerSplat {
		// A partial quad is a single triangle. The pipeline is only ever
		// drawn with full quads.
		return
	}
	vw, vh := float64(cam.Viewport.X()), float64(cam.Viewport.Y())
	for inst := args.FirstInstance; inst < args.FirstInstance+args.InstanceCount; inst++ {
		s := &points[indices[inst]]
		cx, cy := smath.Unpack2x16(s.Pos)
		sx, sy := smath.Unpack2x16(s.Size)
		// Quad in pixel space. NDC y is up, pixel y is down.
		center := curve.Point{
			X: (float64(cx) + 1) * 0.5 * vw,
			Y: (1 - float64(cy)) * 0.5 * vh,
		}
		quad := curve.Rect{
			X0: center.X - float64(sx)*0.5*vw,
			Y0: center.Y - float64(sy)*0.5*vh,
			X1: center.X + float64(sx)*0.5*vw,
			Y1: center.Y + float64(sy)*0.5*vh,
		}
		shadeQuad(target, quad, center, s)
	}
}

func shadeQuad(target *image.RGBA, quad curve.Rect, center curve.Point, s *renderer.SplatRecord) {
	b := target.Bounds()
	x0 := max(b.Min.X, int(math.Ceil(quad.X0-0.5)))
	x1 := min(b.Max.X, int(math.Ceil(quad.X1-0.5)))
	y0 := max(b.Min.Y, int(math.Ceil(quad.Y0-0.5)))
	y1 := min(b.Max.Y, int(math.Ceil(quad.Y1-0.5)))

	conicX, conicY := smath.Unpack2x16(s.ConicXY)
	conicZ, opacity := smath.Unpack2x16(s.ConicZOpacity)
	color := smath.Unpack4x8Unorm(s.Color)

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			p := curve.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			d := curve.Vec2(p).Sub(curve.Vec2(center))
			// Offsets are y up, like the vertex shader's.
			dx, dy := float32(d.X), float32(-d.Y)
			power := -0.5*(conicX*dx*dx+conicZ*dy*dy) - conicY*dx*dy
			if power > 0 {
				continue
			}
			alpha := min(MAX_ALPHA, opacity*float32(math.Exp(float64(power))))
			if alpha < MIN_ALPHA {
				continue
			}
			blend(target.Pix[target.PixOffset(x, y):], color, alpha)
		}
	}
}

func blend(dst []uint8, src [4]float32, alpha float32) {
	for i := range 3 {
		d := float32(dst[i]) / 255
		dst[i] = unorm8(src[i]*alpha + d*(1-alpha))
	}
	d := float32(dst[3]) / 255
	dst[3] = unorm8(alpha + d*(1-alpha))
}

func unorm8(v float32) uint8 {
	return uint8(math.Floor(float64(clamp(v, 0, 1))*255 + 0.5))
}
