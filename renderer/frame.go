// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/color"
	"honnef.co/go/safeish"
	"honnef.co/go/splat/profiler"
)

type FullShaders struct {
	Preprocess    ShaderID
	SortHistogram ShaderID
	SortScan      ShaderID
	SortScatter   ShaderID
	Gaussian      ShaderID
}

// BufferWriter writes to a buffer outside of any recording, taking effect
// before the next submitted recording executes.
type BufferWriter interface {
	WriteBuffer(buf BufferProxy, offset uint64, data []byte)
}

type Options struct {
	// Multiplier applied to every Gaussian's scale. Zero means 1.
	Scale float32
	// Color the target is cleared to. Nil means transparent black.
	Background *color.Color
}

// Renderer records the per-frame command sequence that preprocesses, sorts
// and draws a point cloud.
//
// A Renderer is not safe for concurrent use.
type Renderer struct {
	shaders    *FullShaders
	res        *Resources
	sorter     Sorter
	settings   RenderSettings
	background [4]float32
	wgCounts   WorkgroupCounts
}

func New(
	shaders *FullShaders,
	cloud PointCloud,
	camera BufferProxy,
	sorter Sorter,
	opts *Options,
) (*Renderer, error) {
	if opts == nil {
		opts = &Options{}
	}
	res, err := NewResources(cloud, camera, sorter)
	if err != nil {
		return nil, err
	}
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	shDegree := cloud.SHDegree
	if shDegree > MaxSHDegree {
		Logger().Warn("clamping spherical harmonics degree", "degree", shDegree, "max", MaxSHDegree)
		shDegree = MaxSHDegree
	}
	return &Renderer{
		shaders: shaders,
		res:     res,
		sorter:  sorter,
		settings: RenderSettings{
			Scale:    scale,
			SHDegree: shDegree,
		},
		background: Premul32(opts.Background),
		wgCounts:   NewWorkgroupCounts(cloud.NumPoints),
	}, nil
}

func (rd *Renderer) Resources() *Resources { return rd.res }

// Settings returns the current render parameters.
func (rd *Renderer) Settings() RenderSettings { return rd.settings }

// Setup records the one-time initialization of the renderer's and the
// sorter's buffers. It must be executed before the first frame.
func (rd *Renderer) Setup(rec *Recording) {
	rd.res.setup(rec, rd.settings)
	rd.sorter.Setup(rec)
}

type frameStep struct {
	label string
	fn    func(rd *Renderer, rec *Recording, target ImageProxy)
}

// frameSteps is the fixed order of a frame. Every step reads what the steps
// before it wrote, so steps are never reordered or skipped.
var frameSteps = [...]frameStep{
	{"reset counters", (*Renderer).resetCounters},
	{"preprocess", (*Renderer).preprocess},
	{"sort", (*Renderer).sort},
	{"propagate count", (*Renderer).propagateCount},
	{"draw", (*Renderer).draw},
}

// RenderFrame records one frame into rec, drawing into target.
func (rd *Renderer) RenderFrame(rec *Recording, target ImageProxy, pgroup profiler.ProfilerGroup) {
	pgroup = profiler.Or(pgroup).Start("RenderFrame")
	defer pgroup.End()

	Logger().Debug("recording frame",
		"points", rd.res.NumPoints(),
		"preprocessWorkgroups", rd.wgCounts.Preprocess[0],
		"width", target.Width,
		"height", target.Height)
	for _, step := range frameSteps {
		g := pgroup.Start(step.label)
		step.fn(rd, rec, target)
		g.End()
	}
}

func (rd *Renderer) resetCounters(rec *Recording, _ ImageProxy) {
	sb := rd.sorter.Buffers()
	rec.CopyBuffer(rd.res.Zero, 0, sb.Info, KeysSizeOffset, 4)
	rec.CopyBuffer(rd.res.Zero, 0, sb.Dispatch, DispatchXOffset, 4)
}

func (rd *Renderer) preprocess(rec *Recording, _ ImageProxy) {
	rec.Dispatch(rd.shaders.Preprocess, rd.wgCounts.Preprocess, rd.res.PreprocessBindings())
}

func (rd *Renderer) sort(rec *Recording, _ ImageProxy) {
	rd.sorter.Sort(rec)
}

func (rd *Renderer) propagateCount(rec *Recording, _ ImageProxy) {
	rec.CopyBuffer(rd.sorter.Buffers().Info, KeysSizeOffset, rd.res.IndirectArgs, InstanceCountOffset, 4)
}

func (rd *Renderer) draw(rec *Recording, target ImageProxy) {
	rec.Draw(rd.shaders.Gaussian, target, rd.background, rd.res.IndirectArgs, 0, rd.res.DrawBindings())
}

// UpdateScale sets the scale multiplier and writes the render parameters
// immediately, so that it applies from the next submitted frame on.
func (rd *Renderer) UpdateScale(w BufferWriter, scale float32) {
	rd.settings.Scale = scale
	settings := rd.settings
	w.WriteBuffer(rd.res.Settings, 0, safeish.AsBytes(&settings))
}

// Free records the release of the renderer's buffers. The sorter's buffers
// belong to the sorter.
func (rd *Renderer) Free(rec *Recording) {
	rd.res.Free(rec)
}
