// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"
	"unsafe"

	"honnef.co/go/splat/smath"
)

type WorkgroupSize [3]uint32

const (
	// Invocations per workgroup of the preprocess kernel.
	PreprocessWg = 256
	// Keys handled by one workgroup of the sort kernels. Preprocess bumps the
	// sort dispatch count once per this many emitted keys.
	SortBlockSize = 256
	// Vertices emitted per splat instance (two triangles).
	VerticesPerSplat = 6
	// Highest spherical harmonics degree the shaders evaluate.
	MaxSHDegree = 3
	// Size in bytes of the camera uniform, see camera.Uniform.
	CameraUniformSize = 272
)

// SplatRecord is the screen-space form of a visible Gaussian, written by the
// preprocess kernel and read by the gaussian render kernel.
//
// This data structure must be kept in sync with the definition in
// `shaders/wgsl/shared/splat.wgsl`.
type SplatRecord struct {
	_ structs.HostLayout

	// pack2x16float of the NDC center.
	Pos uint32
	// pack2x16float of the half extent in NDC.
	Size uint32
	// pack2x16float of the first two conic coefficients.
	ConicXY uint32
	// pack2x16float of the last conic coefficient and the opacity.
	ConicZOpacity uint32
	// pack4x8unorm of the RGBA color.
	Color uint32
}

// RenderSettings holds the render parameters shared by the preprocess and
// render kernels.
type RenderSettings struct {
	_ structs.HostLayout

	// Multiplier applied to every Gaussian's scale.
	Scale float32
	// Spherical harmonics degree to evaluate, at most MaxSHDegree.
	SHDegree uint32
}

// IndirectDrawArgs matches the layout wgpu expects for DrawIndirect.
type IndirectDrawArgs struct {
	_ structs.HostLayout

	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// Byte offset of IndirectDrawArgs.InstanceCount.
const InstanceCountOffset = 4

// SortInfo is the head of the sorter's info buffer.
type SortInfo struct {
	_ structs.HostLayout

	// Number of valid key/value pairs. Preprocess increments it atomically.
	KeysSize uint32
	// Number of pairs the ping-pong buffers can hold.
	Capacity uint32
	_        uint32 // padding
	_        uint32 // padding
}

// DispatchIndirectArgs stores indirect dispatch size values.
type DispatchIndirectArgs struct {
	_ structs.HostLayout

	X uint32
	Y uint32
	Z uint32
}

// Byte offsets of the counters that are reset at the start of every frame.
const (
	KeysSizeOffset  = 0
	DispatchXOffset = 0
)

type BufferSize[T any] uint32

func NewBufferSize[T any](x uint32) BufferSize[T] {
	return BufferSize[T](max(x, 1))
}

func (s BufferSize[T]) SizeInBytes() uint64 {
	return uint64(s) * uint64(unsafe.Sizeof(*new(T)))
}

type BufferSizes struct {
	Splats       BufferSize[SplatRecord]
	IndirectArgs BufferSize[IndirectDrawArgs]
	Settings     BufferSize[RenderSettings]
	Zero         BufferSize[uint32]
}

func NewBufferSizes(numPoints uint32) BufferSizes {
	return BufferSizes{
		Splats:       NewBufferSize[SplatRecord](numPoints),
		IndirectArgs: NewBufferSize[IndirectDrawArgs](1),
		Settings:     NewBufferSize[RenderSettings](1),
		Zero:         NewBufferSize[uint32](1),
	}
}

type WorkgroupCounts struct {
	Preprocess WorkgroupSize
	// Note that sorting and drawing use indirect arguments produced by
	// preprocess.
}

func NewWorkgroupCounts(numPoints uint32) WorkgroupCounts {
	return WorkgroupCounts{
		Preprocess: WorkgroupSize{smath.DivRoundUp(numPoints, PreprocessWg), 1, 1},
	}
}
