// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"honnef.co/go/splat/camera"
	"honnef.co/go/splat/pointcloud"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/splat/smath"
)

const (
	SH_C0   = 0.28209479177387814
	SH_C1   = 0.4886025119029199
	SH_C2_0 = 1.0925484305920792
	SH_C2_1 = -1.0925484305920792
	SH_C2_2 = 0.31539156525252005
	SH_C2_3 = -1.0925484305920792
	SH_C2_4 = 0.5462742152960396
	SH_C3_0 = -0.5900435899266435
	SH_C3_1 = 2.890611442640554
	SH_C3_2 = -0.4570457994644658
	SH_C3_3 = 0.3731763325901154
	SH_C3_4 = -0.4570457994644658
	SH_C3_5 = 1.445305721320277
	SH_C3_6 = -0.5900435899266435
)

// Preprocess projects Gaussians and appends the keys of visible ones to the
// sort buffers. Invocations run in order, which makes the emitted order of
// keys deterministic.
func Preprocess(numWgs uint32, resources []CPUBinding) {
	cam := fromBytes[camera.Uniform](resources[0].(CPUBuffer))
	settings := fromBytes[renderer.RenderSettings](resources[1].(CPUBuffer))
	gaussians := sliceOf[pointcloud.PackedGaussian](resources[2])
	points := sliceOf[renderer.SplatRecord](resources[3])
	shs := sliceOf[pointcloud.PackedSH](resources[4])
	info := fromBytes[renderer.SortInfo](resources[5].(CPUBuffer))
	depths := sliceOf[uint32](resources[6])
	indices := sliceOf[uint32](resources[7])
	dispatch := fromBytes[renderer.DispatchIndirectArgs](resources[8].(CPUBuffer))

	for wg := range numWgs {
		for local := range uint32(WG_SIZE) {
			idx := wg*WG_SIZE + local
			if idx >= uint32(len(gaussians)) {
				continue
			}
			splat, key, ok := projectGaussian(cam, settings, &gaussians[idx], &shs[idx])
			if !ok {
				continue
			}
			points[idx] = splat

			storeIdx := info.KeysSize
			info.KeysSize++
			if storeIdx%renderer.SortBlockSize == 0 {
				dispatch.X++
			}
			depths[storeIdx] = key
			indices[storeIdx] = idx
		}
	}
}

// DepthKey maps a view depth to a sort key. Larger depths get smaller keys.
func DepthKey(depth float32) uint32 {
	return 0xFFFFFFFF - math.Float32bits(depth)
}

func projectGaussian(
	cam *camera.Uniform,
	settings *renderer.RenderSettings,
	g *pointcloud.PackedGaussian,
	sh *pointcloud.PackedSH,
) (renderer.SplatRecord, uint32, bool) {
	px, py := smath.Unpack2x16(g.PosOpacity[0])
	pz, opacity := smath.Unpack2x16(g.PosOpacity[1])
	xyz := mgl32.Vec3{px, py, pz}
	if opacity < MIN_ALPHA {
		return renderer.SplatRecord{}, 0, false
	}

	posView := cam.View.Mul4x1(xyz.Vec4(1))
	posClip := cam.Proj.Mul4x1(posView)
	if posClip.W() <= 0 {
		return renderer.SplatRecord{}, 0, false
	}
	w := posClip.W()
	ndc := mgl32.Vec3{posClip.X() / w, posClip.Y() / w, posClip.Z() / w}
	if ndc.Z() < -1 || ndc.Z() > 1 || abs(ndc.X()) > CLIP_GUARD || abs(ndc.Y()) > CLIP_GUARD {
		return renderer.SplatRecord{}, 0, false
	}

	r0w, r0x := smath.Unpack2x16(g.Rot[0])
	r1y, r1z := smath.Unpack2x16(g.Rot[1])
	rot := quatToMat(mgl32.Vec4{r0w, r0x, r1y, r1z}.Normalize())
	s0x, s0y := smath.Unpack2x16(g.Scale[0])
	s1z, _ := smath.Unpack2x16(g.Scale[1])
	scale := mgl32.Vec3{s0x, s0y, s1z}.Mul(settings.Scale)
	m := mgl32.Mat3FromCols(
		rot.Col(0).Mul(scale.X()),
		rot.Col(1).Mul(scale.Y()),
		rot.Col(2).Mul(scale.Z()),
	)
	cov3d := m.Mul3(m.Transpose())

	// View space with +z pointing away from the camera.
	t := mgl32.Vec3{posView.X(), posView.Y(), -posView.Z()}
	limX := 1.3 * 0.5 * cam.Viewport.X() / cam.Focal.X()
	limY := 1.3 * 0.5 * cam.Viewport.Y() / cam.Focal.Y()
	tx := clamp(t.X()/t.Z(), -limX, limX) * t.Z()
	ty := clamp(t.Y()/t.Z(), -limY, limY) * t.Z()
	fx := cam.Focal.X()
	fy := cam.Focal.Y()
	tz2 := t.Z() * t.Z()
	jacobian := mgl32.Mat3FromCols(
		mgl32.Vec3{fx / t.Z(), 0, 0},
		mgl32.Vec3{0, fy / t.Z(), 0},
		mgl32.Vec3{-fx * tx / tz2, -fy * ty / tz2, 0},
	)
	flipZ := func(v mgl32.Vec4) mgl32.Vec3 { return mgl32.Vec3{v.X(), v.Y(), -v.Z()} }
	viewRot := mgl32.Mat3FromCols(
		flipZ(cam.View.Col(0)),
		flipZ(cam.View.Col(1)),
		flipZ(cam.View.Col(2)),
	)
	tm := jacobian.Mul3(viewRot)
	cov2d := tm.Mul3(cov3d).Mul3(tm.Transpose())
	a := cov2d.At(0, 0) + LOW_PASS
	b := cov2d.At(1, 0)
	c := cov2d.At(1, 1) + LOW_PASS
	det := a*c - b*b
	if !(det > 0) {
		return renderer.SplatRecord{}, 0, false
	}
	conic := mgl32.Vec3{c / det, -b / det, a / det}
	mid := 0.5 * (a + c)
	lambda := mid + sqrt(max(0.1, mid*mid-det))
	radius := 3 * sqrt(lambda)
	size := mgl32.Vec2{radius * 2 / cam.Viewport.X(), radius * 2 / cam.Viewport.Y()}

	camPos := cam.ViewInv.Col(3).Vec3()
	dir := xyz.Sub(camPos).Normalize()
	degree := min(settings.SHDegree, renderer.MaxSHDegree)
	color := evaluateSH(sh, dir, degree)
	for i := range color {
		color[i] = clamp(color[i]+0.5, 0, 1)
	}

	splat := renderer.SplatRecord{
		Pos:           smath.Pack2x16(ndc.X(), ndc.Y()),
		Size:          smath.Pack2x16(size.X(), size.Y()),
		ConicXY:       smath.Pack2x16(conic.X(), conic.Y()),
		ConicZOpacity: smath.Pack2x16(conic.Z(), opacity),
		Color:         smath.Pack4x8Unorm([4]float32{color[0], color[1], color[2], 1}),
	}
	return splat, DepthKey(t.Z()), true
}

// q is (w, x, y, z) and normalized.
func quatToMat(q mgl32.Vec4) mgl32.Mat3 {
	r, x, y, z := q[0], q[1], q[2], q[3]
	return mgl32.Mat3FromCols(
		mgl32.Vec3{1 - 2*(y*y+z*z), 2 * (x*y + r*z), 2 * (x*z - r*y)},
		mgl32.Vec3{2 * (x*y - r*z), 1 - 2*(x*x+z*z), 2 * (y*z + r*x)},
		mgl32.Vec3{2 * (x*z + r*y), 2 * (y*z - r*x), 1 - 2*(x*x+y*y)},
	)
}

func shCoef(sh *pointcloud.PackedSH, c int) mgl32.Vec3 {
	var out mgl32.Vec3
	for ch := range 3 {
		i := c*3 + ch
		lo, hi := smath.Unpack2x16(sh[i/2])
		if i&1 == 1 {
			out[ch] = hi
		} else {
			out[ch] = lo
		}
	}
	return out
}

func evaluateSH(sh *pointcloud.PackedSH, dir mgl32.Vec3, degree uint32) mgl32.Vec3 {
	result := shCoef(sh, 0).Mul(SH_C0)
	if degree == 0 {
		return result
	}
	x, y, z := dir.X(), dir.Y(), dir.Z()
	result = result.
		Add(shCoef(sh, 1).Mul(-SH_C1 * y)).
		Add(shCoef(sh, 2).Mul(SH_C1 * z)).
		Sub(shCoef(sh, 3).Mul(SH_C1 * x))
	if degree == 1 {
		return result
	}
	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z
	result = result.
		Add(shCoef(sh, 4).Mul(SH_C2_0 * xy)).
		Add(shCoef(sh, 5).Mul(SH_C2_1 * yz)).
		Add(shCoef(sh, 6).Mul(SH_C2_2 * (2*zz - xx - yy))).
		Add(shCoef(sh, 7).Mul(SH_C2_3 * xz)).
		Add(shCoef(sh, 8).Mul(SH_C2_4 * (xx - yy)))
	if degree == 2 {
		return result
	}
	return result.
		Add(shCoef(sh, 9).Mul(SH_C3_0 * y * (3*xx - yy))).
		Add(shCoef(sh, 10).Mul(SH_C3_1 * xy * z)).
		Add(shCoef(sh, 11).Mul(SH_C3_2 * y * (4*zz - xx - yy))).
		Add(shCoef(sh, 12).Mul(SH_C3_3 * z * (2*zz - 3*xx - 3*yy))).
		Add(shCoef(sh, 13).Mul(SH_C3_4 * x * (4*zz - xx - yy))).
		Add(shCoef(sh, 14).Mul(SH_C3_5 * z * (xx - yy))).
		Add(shCoef(sh, 15).Mul(SH_C3_6 * x * (xx - 3*yy)))
}

func abs(x float32) float32 { return float32(math.Abs(float64(x))) }

func sqrt(x float32) float32 { return float32(math.Sqrt(float64(x))) }
