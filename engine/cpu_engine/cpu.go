// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu_engine executes recordings with the CPU kernels of package
// cpu. It produces the same buffer contents as the wgpu engine, up to
// floating point differences, and renders into an *image.RGBA.
package cpu_engine

import (
	"fmt"
	"image"
	"reflect"

	"honnef.co/go/safeish"
	"honnef.co/go/splat/engine/shaders"
	"honnef.co/go/splat/engine/shaders/cpu"
	"honnef.co/go/splat/profiler"
	"honnef.co/go/splat/renderer"
)

// kernels maps shader names to their CPU implementations.
var kernels = map[string]cpu.Kernel{
	"preprocess":     cpu.Preprocess,
	"sort_histogram": cpu.SortHistogram,
	"sort_scan":      cpu.SortScan,
	"sort_scatter":   cpu.SortScatter,
}

type shader struct {
	Label   string
	Compute cpu.Kernel
	// Set for the render shader.
	Draw bool
}

type ExternalResource interface {
	// One of ExternalBuffer and ExternalImage
}

type ExternalBuffer struct {
	Proxy  renderer.BufferProxy
	Buffer []byte
}

// ExternalImage provides the render target of Draw commands. Its bounds must
// match the proxy's size.
type ExternalImage struct {
	Proxy renderer.ImageProxy
	Image *image.RGBA
}

type Engine struct {
	shaders     []shader
	fullShaders *renderer.FullShaders
	bufs        map[renderer.ResourceID]cpu.CPUBuffer
	downloads   map[renderer.ResourceID][]byte

	// Observer, if set, is called after every executed command with the
	// command's index in its recording.
	Observer func(step int, cmd renderer.Command)
}

var _ renderer.BufferWriter = (*Engine)(nil)

func New() *Engine {
	eng := &Engine{
		bufs:      make(map[renderer.ResourceID]cpu.CPUBuffer),
		downloads: make(map[renderer.ResourceID][]byte),
	}
	eng.fullShaders = eng.newFullShaders()
	return eng
}

// Shaders returns the IDs of the renderer's shaders on this engine.
func (eng *Engine) Shaders() *renderer.FullShaders { return eng.fullShaders }

func (eng *Engine) newFullShaders() *renderer.FullShaders {
	var out renderer.FullShaders
	outV := reflect.ValueOf(&out).Elem()
	v := reflect.ValueOf(&shaders.Collection).Elem()
	for i := range v.NumField() {
		outField := outV.FieldByName(v.Type().Field(i).Name)
		if !outField.IsValid() {
			continue
		}
		var sh shader
		switch s := v.Field(i).Addr().Interface().(type) {
		case *shaders.ComputeShader:
			k, ok := kernels[s.Name]
			if !ok {
				panic(fmt.Sprintf("no CPU kernel for shader %q", s.Name))
			}
			sh = shader{Label: s.Name, Compute: k}
		case *shaders.RenderShader:
			sh = shader{Label: s.Name, Draw: true}
		default:
			panic(fmt.Sprintf("unhandled type %T", s))
		}
		id := renderer.ShaderID(len(eng.shaders))
		eng.shaders = append(eng.shaders, sh)
		outField.Set(reflect.ValueOf(id))
	}
	return &out
}

// newBuffer returns a zeroed buffer of size bytes, aligned for any of the
// types the kernels cast buffers to.
func newBuffer(size uint64) cpu.CPUBuffer {
	words := make([]uint64, (size+7)/8)
	return cpu.CPUBuffer(safeish.SliceCast[[]byte](words)[:size])
}

func (eng *Engine) materialize(proxy renderer.BufferProxy) cpu.CPUBuffer {
	if b, ok := eng.bufs[proxy.ID]; ok {
		return b
	}
	b := newBuffer(proxy.Size)
	eng.bufs[proxy.ID] = b
	return b
}

func (eng *Engine) resources(bindings [][]renderer.BufferProxy) []cpu.CPUBinding {
	var out []cpu.CPUBinding
	for _, group := range bindings {
		for _, proxy := range group {
			out = append(out, eng.materialize(proxy))
		}
	}
	return out
}

// RunRecording executes the commands of recording in order.
func (eng *Engine) RunRecording(
	recording *renderer.Recording,
	externalResources []ExternalResource,
	pgroup profiler.ProfilerGroup,
) {
	pgroup = profiler.Or(pgroup).Start("RunRecording")
	defer pgroup.End()

	images := map[renderer.ResourceID]*image.RGBA{}
	for _, res := range externalResources {
		switch res := res.(type) {
		case ExternalBuffer:
			if uint64(len(res.Buffer)) < res.Proxy.Size {
				panic(fmt.Sprintf("external buffer %s is too small", res.Proxy.Name))
			}
			eng.bufs[res.Proxy.ID] = cpu.CPUBuffer(res.Buffer)
		case ExternalImage:
			b := res.Image.Bounds()
			if b.Dx() != int(res.Proxy.Width) || b.Dy() != int(res.Proxy.Height) {
				panic(fmt.Sprintf("image is %dx%d, proxy is %dx%d",
					b.Dx(), b.Dy(), res.Proxy.Width, res.Proxy.Height))
			}
			images[res.Proxy.ID] = res.Image
		default:
			panic(fmt.Sprintf("unhandled type %T", res))
		}
	}

	var freeBufs []renderer.ResourceID
	for step, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			copy(eng.materialize(cmd.Buffer), cmd.Data)

		case *renderer.UploadUniform:
			copy(eng.materialize(cmd.Buffer), cmd.Data)

		case *renderer.Dispatch:
			sh := eng.shaders[cmd.Shader]
			if sh.Compute == nil {
				panic(fmt.Sprintf("shader %s isn't a compute shader", sh.Label))
			}
			wg := cmd.WorkgroupCount
			if wg[1] != 1 || wg[2] != 1 {
				panic(fmt.Sprintf("unsupported workgroup count %v", wg))
			}
			g := pgroup.Start(sh.Label)
			sh.Compute(wg[0], eng.resources(cmd.Bindings))
			g.End()

		case *renderer.DispatchIndirect:
			sh := eng.shaders[cmd.Shader]
			if sh.Compute == nil {
				panic(fmt.Sprintf("shader %s isn't a compute shader", sh.Label))
			}
			buf, ok := eng.bufs[cmd.Buffer.ID]
			if !ok {
				panic("tried using unavailable buffer for indirect dispatch")
			}
			args := safeish.Cast[*renderer.DispatchIndirectArgs](&buf[cmd.Offset])
			g := pgroup.Start(sh.Label)
			sh.Compute(args.X, eng.resources(cmd.Bindings))
			g.End()

		case *renderer.CopyBuffer:
			src := eng.materialize(cmd.Src)
			dst := eng.materialize(cmd.Dst)
			copy(dst[cmd.DstOffset:cmd.DstOffset+cmd.Size], src[cmd.SrcOffset:cmd.SrcOffset+cmd.Size])

		case *renderer.Draw:
			sh := eng.shaders[cmd.Shader]
			if !sh.Draw {
				panic(fmt.Sprintf("shader %s isn't a render shader", sh.Label))
			}
			img, ok := images[cmd.Target.ID]
			if !ok {
				panic(fmt.Sprintf("no external image for draw target %s", cmd.Target.Name))
			}
			buf, ok := eng.bufs[cmd.Indirect.ID]
			if !ok {
				panic("tried using unavailable buffer for indirect draw")
			}
			args := *safeish.Cast[*renderer.IndirectDrawArgs](&buf[cmd.Offset])
			g := pgroup.Start(sh.Label)
			cpu.Clear(img, cmd.Background)
			cpu.Draw(img, args, eng.resources(cmd.Bindings))
			g.End()

		case *renderer.Download:
			src, ok := eng.bufs[cmd.Buffer.ID]
			if !ok {
				panic("tried using unavailable buffer for download")
			}
			eng.downloads[cmd.Buffer.ID] = append([]byte(nil), src[:cmd.Buffer.Size]...)

		case *renderer.Clear:
			buf := eng.materialize(cmd.Buffer)[cmd.Offset:]
			if cmd.Size >= 0 {
				buf = buf[:cmd.Size]
			}
			clear(buf)

		case *renderer.FreeBuffer:
			freeBufs = append(freeBufs, cmd.Buffer.ID)

		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
		if eng.Observer != nil {
			eng.Observer(step, cmd)
		}
	}

	for _, id := range freeBufs {
		delete(eng.bufs, id)
	}
	for _, res := range externalResources {
		if res, ok := res.(ExternalBuffer); ok {
			delete(eng.bufs, res.Proxy.ID)
		}
	}
}

// WriteBuffer writes data to an existing buffer.
func (eng *Engine) WriteBuffer(proxy renderer.BufferProxy, offset uint64, data []byte) {
	buf, ok := eng.bufs[proxy.ID]
	if !ok {
		panic(fmt.Sprintf("writing to unknown buffer %s", proxy.Name))
	}
	copy(buf[offset:], data)
}

// Buffer returns the current contents of a buffer. The slice aliases the
// engine's memory.
func (eng *Engine) Buffer(proxy renderer.BufferProxy) ([]byte, bool) {
	b, ok := eng.bufs[proxy.ID]
	return b, ok
}

// Download returns and forgets the result of a Download command.
func (eng *Engine) Download(proxy renderer.BufferProxy) ([]byte, bool) {
	b, ok := eng.downloads[proxy.ID]
	delete(eng.downloads, proxy.ID)
	return b, ok
}
