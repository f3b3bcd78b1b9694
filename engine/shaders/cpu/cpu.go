// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu provides CPU implementations of the splat kernels.
//
// These kernels intentionally replicate the WGSL shaders, including their
// workgroup structure and their use of f16 and unorm8 packing, instead of
// using more CPU-friendly alternatives. They're a debug and test tool, not a
// viable fallback.
package cpu

import (
	"fmt"
	"unsafe"

	"honnef.co/go/safeish"
	"honnef.co/go/splat/renderer"
)

const WG_SIZE = 256

const (
	MIN_ALPHA  = 1.0 / 255.0
	MAX_ALPHA  = 0.99
	CLIP_GUARD = 1.2
	LOW_PASS   = 0.3
)

type CPUBinding interface {
	// One of CPUBuffer
}

type CPUBuffer []byte

// Kernel is the signature of compute kernels. Bindings of all bind groups
// are passed in order, flattened into one slice.
type Kernel func(numWgs uint32, resources []CPUBinding)

func fromBytes[E any, T *E](b []byte) T {
	if uintptr(len(b)) < unsafe.Sizeof(*new(E)) {
		panic(fmt.Sprintf(
			"buffer of size %d cannot represent object of size %d", len(b), unsafe.Sizeof(*new(E))))
	}

	return safeish.Cast[T](&b[0])
}

func sliceOf[T any](b CPUBinding) []T {
	return safeish.SliceCast[[]T](b.(CPUBuffer))
}

func clamp[T float32 | float64](x, lo, hi T) T {
	return max(lo, min(x, hi))
}

func blockCount(n uint32) uint32 {
	return (n + renderer.SortBlockSize - 1) / renderer.SortBlockSize
}
