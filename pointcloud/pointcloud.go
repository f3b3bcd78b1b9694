// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package pointcloud packs 3D Gaussians into the buffers the preprocess
// kernel reads.
package pointcloud

import (
	"errors"
	"fmt"
	"math"
	"structs"

	"github.com/go-gl/mathgl/mgl32"
	"honnef.co/go/safeish"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/splat/smath"
)

// NumSHCoeffs is the number of spherical harmonics coefficients per color
// channel for degree 3.
const NumSHCoeffs = 16

var ErrInvalid = errors.New("pointcloud: invalid point cloud")

// Gaussian is a 3D Gaussian with activated parameters: opacity is in [0, 1]
// and scale is linear.
type Gaussian struct {
	Position mgl32.Vec3
	Opacity  float32
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
	// Spherical harmonics coefficients. SH[0] is the DC term.
	SH [NumSHCoeffs]mgl32.Vec3
}

type PointCloud struct {
	Gaussians []Gaussian
	// Highest spherical harmonics degree stored in the coefficients, 0 to 3.
	SHDegree int
}

func (pc *PointCloud) Len() int { return len(pc.Gaussians) }

// Validate reports the first Gaussian that can't be packed.
func (pc *PointCloud) Validate() error {
	if pc.SHDegree < 0 || pc.SHDegree > renderer.MaxSHDegree {
		return fmt.Errorf("%w: spherical harmonics degree %d", ErrInvalid, pc.SHDegree)
	}
	for i := range pc.Gaussians {
		g := &pc.Gaussians[i]
		if !packable(g.Position[:]...) {
			return fmt.Errorf("%w: gaussian %d has position %v", ErrInvalid, i, g.Position)
		}
		if !(g.Opacity >= 0 && g.Opacity <= 1) {
			return fmt.Errorf("%w: gaussian %d has opacity %v", ErrInvalid, i, g.Opacity)
		}
		if !packable(g.Scale[:]...) || g.Scale.X() < 0 || g.Scale.Y() < 0 || g.Scale.Z() < 0 {
			return fmt.Errorf("%w: gaussian %d has scale %v", ErrInvalid, i, g.Scale)
		}
		if g.Rotation.Len() == 0 || !finite(g.Rotation.W, g.Rotation.V[0], g.Rotation.V[1], g.Rotation.V[2]) {
			return fmt.Errorf("%w: gaussian %d has rotation %v", ErrInvalid, i, g.Rotation)
		}
		for c := range (pc.SHDegree + 1) * (pc.SHDegree + 1) {
			if !packable(g.SH[c][:]...) {
				return fmt.Errorf("%w: gaussian %d has spherical harmonics coefficient %d %v", ErrInvalid, i, c, g.SH[c])
			}
		}
	}
	return nil
}

// packable reports whether all values survive conversion to f16 as finite
// numbers.
func packable(vs ...float32) bool {
	for _, v := range vs {
		if !(v >= -smath.MaxFloat16 && v <= smath.MaxFloat16) {
			return false
		}
	}
	return true
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// PackedGaussian is the GPU form of a Gaussian. Every word holds two f16.
//
// This data structure must be kept in sync with the definition in
// `shaders/wgsl/shared/splat.wgsl`.
type PackedGaussian struct {
	_ structs.HostLayout

	// x, y | z, opacity
	PosOpacity [2]uint32
	// w, x | y, z
	Rot [2]uint32
	// x, y | z, 0
	Scale [2]uint32
}

// PackedSH holds 16 RGB coefficients as f16, coefficient-major.
type PackedSH [NumSHCoeffs * 3 / 2]uint32

func (g *Gaussian) Pack() PackedGaussian {
	return PackedGaussian{
		PosOpacity: [2]uint32{
			smath.Pack2x16(g.Position.X(), g.Position.Y()),
			smath.Pack2x16(g.Position.Z(), g.Opacity),
		},
		Rot: [2]uint32{
			smath.Pack2x16(g.Rotation.W, g.Rotation.V.X()),
			smath.Pack2x16(g.Rotation.V.Y(), g.Rotation.V.Z()),
		},
		Scale: [2]uint32{
			smath.Pack2x16(g.Scale.X(), g.Scale.Y()),
			smath.Pack2x16(g.Scale.Z(), 0),
		},
	}
}

// PackSH packs the coefficients up to degree. Higher coefficients are zero.
func (g *Gaussian) PackSH(degree int) PackedSH {
	var halves [NumSHCoeffs * 3]float32
	n := (degree + 1) * (degree + 1)
	for c := range n {
		for ch := range 3 {
			halves[c*3+ch] = g.SH[c][ch]
		}
	}
	var out PackedSH
	for i := range out {
		out[i] = smath.Pack2x16(halves[2*i], halves[2*i+1])
	}
	return out
}

// Pack packs all Gaussians and their spherical harmonics.
func (pc *PointCloud) Pack() ([]PackedGaussian, []PackedSH) {
	gs := make([]PackedGaussian, len(pc.Gaussians))
	shs := make([]PackedSH, len(pc.Gaussians))
	for i := range pc.Gaussians {
		gs[i] = pc.Gaussians[i].Pack()
		shs[i] = pc.Gaussians[i].PackSH(pc.SHDegree)
	}
	return gs, shs
}

// Upload validates and packs the point cloud and records its upload.
func (pc *PointCloud) Upload(rec *renderer.Recording) (renderer.PointCloud, error) {
	if pc.Len() == 0 {
		return renderer.PointCloud{}, renderer.ErrEmptyPointCloud
	}
	if err := pc.Validate(); err != nil {
		return renderer.PointCloud{}, err
	}
	gs, shs := pc.Pack()
	renderer.Logger().Debug("uploading point cloud", "points", pc.Len(), "shDegree", pc.SHDegree)
	return renderer.PointCloud{
		Gaussians: rec.Upload("gaussiansBuf", safeish.SliceCast[[]byte](gs)),
		SH:        rec.Upload("shBuf", safeish.SliceCast[[]byte](shs)),
		NumPoints: uint32(pc.Len()),
		SHDegree:  uint32(pc.SHDegree),
	}, nil
}

// DCFromColor returns the DC coefficient that makes a Gaussian evaluate to
// the RGB color c when no higher degrees are used.
func DCFromColor(c mgl32.Vec3) mgl32.Vec3 {
	const c0 = 0.28209479177387814
	return mgl32.Vec3{(c[0] - 0.5) / c0, (c[1] - 0.5) / c0, (c[2] - 0.5) / c0}
}
