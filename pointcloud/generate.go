// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package pointcloud

import (
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"
)

// Random returns n Gaussians distributed uniformly inside a ball of the given
// radius around the origin, with random colors, orientations and sizes.
// Only the DC spherical harmonics term is set.
func Random(rng *rand.Rand, n int, radius float32) *PointCloud {
	pc := &PointCloud{
		Gaussians: make([]Gaussian, n),
		SHDegree:  0,
	}
	for i := range pc.Gaussians {
		g := &pc.Gaussians[i]
		g.Position = randomInBall(rng).Mul(radius)
		g.Opacity = 0.3 + 0.7*rng.Float32()
		axis := randomInBall(rng)
		if axis.Len() < 1e-3 {
			axis = mgl32.Vec3{0, 0, 1}
		}
		g.Rotation = mgl32.QuatRotate(rng.Float32()*2*math.Pi, axis.Normalize())
		size := radius * 0.02 * (0.5 + rng.Float32())
		g.Scale = mgl32.Vec3{
			size * (0.5 + rng.Float32()),
			size * (0.5 + rng.Float32()),
			size * (0.5 + rng.Float32()),
		}
		g.SH[0] = DCFromColor(mgl32.Vec3{rng.Float32(), rng.Float32(), rng.Float32()})
	}
	return pc
}

func randomInBall(rng *rand.Rand) mgl32.Vec3 {
	for {
		v := mgl32.Vec3{
			2*rng.Float32() - 1,
			2*rng.Float32() - 1,
			2*rng.Float32() - 1,
		}
		if v.Dot(v) <= 1 {
			return v
		}
	}
}
