// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"errors"
	"fmt"

	"honnef.co/go/safeish"
)

var (
	ErrEmptyPointCloud = errors.New("renderer: point cloud has no points")
	ErrSorterCapacity  = errors.New("renderer: sorter capacity is smaller than the point count")
	ErrCameraBuffer    = errors.New("renderer: camera buffer is too small")
)

// PointCloud describes the point cloud buffers that preprocess reads.
type PointCloud struct {
	// Packed Gaussians, see package pointcloud.
	Gaussians BufferProxy
	// Packed spherical harmonics coefficients.
	SH BufferProxy
	// Number of Gaussians.
	NumPoints uint32
	SHDegree  uint32
}

// Resources owns the buffers the renderer creates for itself and knows how
// to group them, together with the buffers of its collaborators, into bind
// groups. All sizes are derived from the point count and never change.
type Resources struct {
	cloud  PointCloud
	camera BufferProxy
	sorter Sorter
	sizes  BufferSizes

	Splats       BufferProxy
	IndirectArgs BufferProxy
	Settings     BufferProxy
	Zero         BufferProxy
}

func NewResources(cloud PointCloud, camera BufferProxy, sorter Sorter) (*Resources, error) {
	if cloud.NumPoints == 0 {
		return nil, ErrEmptyPointCloud
	}
	if c := sorter.Capacity(); c < cloud.NumPoints {
		return nil, fmt.Errorf("%w: capacity %d, %d points", ErrSorterCapacity, c, cloud.NumPoints)
	}
	if camera.Size < CameraUniformSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrCameraBuffer, camera.Size, CameraUniformSize)
	}

	sizes := NewBufferSizes(cloud.NumPoints)
	res := &Resources{
		cloud:  cloud,
		camera: camera,
		sorter: sorter,
		sizes:  sizes,

		Splats:       NewBufferProxy(sizes.Splats.SizeInBytes(), "splatBuf"),
		IndirectArgs: NewBufferProxy(sizes.IndirectArgs.SizeInBytes(), "drawIndirectBuf"),
		Settings:     NewBufferProxy(sizes.Settings.SizeInBytes(), "renderSettingsBuf"),
		Zero:         NewBufferProxy(sizes.Zero.SizeInBytes(), "zeroBuf"),
	}
	Logger().Debug("allocated splat resources",
		"points", cloud.NumPoints,
		"splatBytes", res.Splats.Size,
		"sorterCapacity", sorter.Capacity())
	return res, nil
}

func (res *Resources) NumPoints() uint32 { return res.cloud.NumPoints }

// setup records the initial contents of the renderer's buffers.
func (res *Resources) setup(rec *Recording, settings RenderSettings) {
	var zero uint32
	rec.UploadInto(res.Zero, safeish.AsBytes(&zero))
	args := IndirectDrawArgs{
		VertexCount:   VerticesPerSplat,
		InstanceCount: res.cloud.NumPoints,
	}
	rec.UploadInto(res.IndirectArgs, safeish.AsBytes(&args))
	rec.UploadUniformInto(res.Settings, safeish.AsBytes(&settings))
	rec.ClearAll(res.Splats)
}

// PreprocessBindings returns the bind groups of the preprocess kernel: the
// camera and render settings, the point cloud and splat records, and the
// sorter's input.
func (res *Resources) PreprocessBindings() [][]BufferProxy {
	sb := res.sorter.Buffers()
	return [][]BufferProxy{
		{res.camera, res.Settings},
		{res.cloud.Gaussians, res.Splats, res.cloud.SH},
		{sb.Info, sb.PingPong[0].Keys, sb.PingPong[0].Values, sb.Dispatch},
	}
}

// DrawBindings returns the bind groups of the gaussian render kernel.
func (res *Resources) DrawBindings() [][]BufferProxy {
	return [][]BufferProxy{
		{res.camera, res.Settings},
		{res.Splats, res.sorter.Result()},
	}
}

// Free records the release of the renderer's own buffers.
func (res *Resources) Free(rec *Recording) {
	rec.FreeBuffer(res.Splats)
	rec.FreeBuffer(res.IndirectArgs)
	rec.FreeBuffer(res.Settings)
	rec.FreeBuffer(res.Zero)
}
