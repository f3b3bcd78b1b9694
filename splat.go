// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package splat renders 3D Gaussian point clouds with wgpu.
//
// Every frame runs entirely on the GPU: a compute pass projects the Gaussians
// and emits depth keys for the visible ones, a radix sort orders them back to
// front, and an indirect draw blends one quad per visible Gaussian into the
// target. The CPU never learns how many Gaussians are visible.
package splat

import (
	"errors"
	"fmt"
	"log/slog"

	"honnef.co/go/color"
	"honnef.co/go/safeish"
	"honnef.co/go/splat/camera"
	"honnef.co/go/splat/engine/wgpu_engine"
	"honnef.co/go/splat/pointcloud"
	"honnef.co/go/splat/radix"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/wgpu"
)

var (
	ErrNoCamera   = errors.New("splat: no camera")
	ErrCameraSize = errors.New("splat: camera has an empty viewport")
)

type Options struct {
	// Format of the texture views passed to RenderFrame.
	TargetFormat wgpu.TextureFormat
	// Multiplier applied to every Gaussian's scale. Zero means 1.
	Scale float32
	// Color the target is cleared to. Nil means transparent black.
	Background *color.Color
	// Record GPU timestamps for every frame. See Renderer.Profiler.
	Profile bool
}

// SetLogger configures the logger of all packages of this module. See
// renderer.SetLogger.
func SetLogger(l *slog.Logger) {
	renderer.SetLogger(l)
}

// scene holds the engine-independent state of a renderer.
type scene struct {
	cloud  renderer.PointCloud
	camera renderer.BufferProxy
	sorter *radix.Sorter
	rd     *renderer.Renderer
	target renderer.ImageProxy
}

// newScene records the upload of the point cloud and camera and the
// initialization of all buffers.
func newScene(
	shaders *renderer.FullShaders,
	rec *renderer.Recording,
	pc *pointcloud.PointCloud,
	cam *camera.Camera,
	opts *Options,
) (*scene, error) {
	if cam == nil {
		return nil, ErrNoCamera
	}
	if cam.Width == 0 || cam.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrCameraSize, cam.Width, cam.Height)
	}
	cloud, err := pc.Upload(rec)
	if err != nil {
		return nil, err
	}
	u := cam.Uniform()
	camBuf := rec.UploadUniform("cameraBuf", u.Bytes())
	sorter := radix.New(shaders, &radix.Options{Capacity: cloud.NumPoints})
	rd, err := renderer.New(shaders, cloud, camBuf, sorter, &renderer.Options{
		Scale:      opts.Scale,
		Background: opts.Background,
	})
	if err != nil {
		return nil, err
	}
	rd.Setup(rec)
	return &scene{
		cloud:  cloud,
		camera: camBuf,
		sorter: sorter,
		rd:     rd,
		target: renderer.NewImageProxy(cam.Width, cam.Height, "target"),
	}, nil
}

func (s *scene) free(rec *renderer.Recording) {
	s.rd.Free(rec)
	s.sorter.Free(rec)
	rec.FreeBuffer(s.camera)
	rec.FreeBuffer(s.cloud.Gaussians)
	rec.FreeBuffer(s.cloud.SH)
}

// Renderer renders one point cloud. It is not safe for concurrent use.
type Renderer struct {
	dev      *wgpu.Device
	engine   *wgpu_engine.Engine
	profiler *wgpu_engine.Profiler
	scene    *scene
	frame    uint64
}

// New uploads pc, compiles all kernels and initializes the renderer's
// buffers. The camera's viewport must match the size of the targets passed
// to RenderFrame.
func New(
	dev *wgpu.Device,
	queue *wgpu.Queue,
	pc *pointcloud.PointCloud,
	cam *camera.Camera,
	opts *Options,
) (*Renderer, error) {
	if opts == nil {
		opts = &Options{}
	}
	eng := wgpu_engine.New(dev, queue, &wgpu_engine.Options{TargetFormat: opts.TargetFormat})
	var rec renderer.Recording
	s, err := newScene(eng.Shaders(), &rec, pc, cam, opts)
	if err != nil {
		eng.Release()
		return nil, err
	}
	eng.RunRecording(&rec, nil, "splat_setup", nil)

	r := &Renderer{
		dev:    dev,
		engine: eng,
		scene:  s,
	}
	if opts.Profile {
		r.profiler = wgpu_engine.NewProfiler(dev)
	}
	return r, nil
}

// RenderFrame records and submits one frame that draws into target.
func (r *Renderer) RenderFrame(target *wgpu.TextureView) {
	pgroup := r.profiler.Start(r.frame)
	r.frame++

	var rec renderer.Recording
	r.scene.rd.RenderFrame(&rec, r.scene.target, pgroup)
	r.engine.RunRecording(&rec, []wgpu_engine.ExternalResource{
		wgpu_engine.ExternalImage{Proxy: r.scene.target, View: target},
	}, "splat_frame", pgroup)
	pgroup.End()

	if r.profiler != nil {
		enc := r.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "splat_profiler"})
		r.profiler.Resolve(enc)
		cmd := enc.Finish(nil)
		enc.Release()
		r.engine.Queue.Submit(cmd)
		cmd.Release()
		r.profiler.Map()
	}
}

// UpdateScale changes the Gaussian scale multiplier from the next frame on.
func (r *Renderer) UpdateScale(scale float32) {
	r.scene.rd.UpdateScale(r.engine, scale)
}

// UpdateCamera replaces the camera from the next frame on. A camera of a
// different size also changes the expected target size.
func (r *Renderer) UpdateCamera(cam *camera.Camera) error {
	if cam == nil {
		return ErrNoCamera
	}
	if cam.Width == 0 || cam.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrCameraSize, cam.Width, cam.Height)
	}
	u := cam.Uniform()
	r.engine.WriteBuffer(r.scene.camera, 0, u.Bytes())
	if t := r.scene.target; t.Width != cam.Width || t.Height != cam.Height {
		r.scene.target = renderer.NewImageProxy(cam.Width, cam.Height, "target")
	}
	return nil
}

// RequestVisibleCount records a download of the number of Gaussians that
// survived culling in the most recent frame. The returned channel receives
// once VisibleCount may be called. The device has to be polled for that to
// happen.
func (r *Renderer) RequestVisibleCount() <-chan error {
	info := r.scene.sorter.Buffers().Info
	var rec renderer.Recording
	rec.Download(info)
	r.engine.RunRecording(&rec, nil, "splat_visible_count", nil)
	return r.engine.MapDownload(info)
}

// VisibleCount returns the count requested by RequestVisibleCount.
func (r *Renderer) VisibleCount() uint32 {
	return visibleCount(r.engine.ReadDownload(r.scene.sorter.Buffers().Info))
}

func visibleCount(info []byte) uint32 {
	return safeish.Cast[*renderer.SortInfo](&info[0]).KeysSize
}

// Settings returns the current render parameters.
func (r *Renderer) Settings() renderer.RenderSettings {
	return r.scene.rd.Settings()
}

// Profiler returns the GPU profiler, or nil if profiling is disabled. The
// results of frame n are tagged with n.
func (r *Renderer) Profiler() *wgpu_engine.Profiler {
	return r.profiler
}

// Release frees all GPU resources. The renderer must not be used afterwards.
func (r *Renderer) Release() {
	var rec renderer.Recording
	r.scene.free(&rec)
	r.engine.RunRecording(&rec, nil, "splat_release", nil)
	r.engine.Release()
}
