// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package smath contains the small numeric helpers shared by the host code
// and the CPU kernels: half-precision packing the way WGSL's
// pack2x16float/unpack2x16float do it, and integer alignment.
package smath

import (
	"math"

	"golang.org/x/exp/constraints"
)

// MaxFloat16 is the largest finite binary16 value.
const MaxFloat16 = 65504

// Float16 converts an f32 to IEEE-754 binary16, returned as raw bits.
//
// Adapted from Fabian Giesen's float_to_half_fast3.
func Float16(val float32) uint16 {
	const inf32 uint32 = 255 << 23
	const inf16 uint32 = 31 << 23
	const magic uint32 = 15 << 23
	const signMask uint32 = 0x8000_0000
	const roundMask uint32 = ^uint32(0xFFF)

	u := math.Float32bits(val)
	sign := u & signMask
	u = u ^ sign

	var output uint16
	if u >= inf32 {
		// NaN -> qNaN and Inf->Inf
		if u > inf32 {
			output = 0x7E00
		} else {
			output = 0x7C00
		}
	} else {
		u := u & roundMask
		u = math.Float32bits(math.Float32frombits(u) * math.Float32frombits(magic))
		u = u - roundMask
		if u > inf16 {
			u = inf16
		}
		output = uint16(u >> 13)
	}
	return output | uint16(sign>>16)
}

// Float32 widens binary16 bits to an f32.
func Float32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h & 0x3FF)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal
		f := float32(mant) / (1 << 24)
		if sign != 0 {
			return -f
		}
		return f
	case 0x1F:
		return math.Float32frombits(sign | 0x7F80_0000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	}
}

// Pack2x16 packs two f32 into one word, a in the low half. It matches WGSL's
// pack2x16float.
func Pack2x16(a, b float32) uint32 {
	return uint32(Float16(a)) | uint32(Float16(b))<<16
}

// Unpack2x16 is the inverse of Pack2x16.
func Unpack2x16(w uint32) (float32, float32) {
	return Float32(uint16(w)), Float32(uint16(w >> 16))
}

// Pack4x8Unorm matches WGSL's pack4x8unorm.
func Pack4x8Unorm(v [4]float32) uint32 {
	var out uint32
	for i, c := range v {
		c = min(max(c, 0), 1)
		out |= uint32(math.Floor(float64(c)*255+0.5)) << (8 * i)
	}
	return out
}

// Unpack4x8Unorm matches WGSL's unpack4x8unorm.
func Unpack4x8Unorm(w uint32) [4]float32 {
	var out [4]float32
	for i := range out {
		out[i] = float32((w>>(8*i))&0xFF) / 255
	}
	return out
}

// AlignUp rounds v up to a multiple of alignment, which has to be a power of
// two.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	return (v + alignment - 1) &^ (alignment - 1)
}

// DivRoundUp returns ceil(a / b).
func DivRoundUp[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}
