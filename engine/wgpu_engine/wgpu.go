// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package wgpu_engine executes recordings on a wgpu device.
package wgpu_engine

// OPT reuse bind groups

import (
	"fmt"
	"math"
	"math/bits"

	"honnef.co/go/splat/renderer"
	"honnef.co/go/wgpu"
)

// Usage of every storage buffer. Any of them may be the source of an indirect
// dispatch or draw.
const storageUsage = wgpu.BufferUsageCopySrc |
	wgpu.BufferUsageCopyDst |
	wgpu.BufferUsageStorage |
	wgpu.BufferUsageIndirect

const uniformUsage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst

type Engine struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	shaders   []shader
	pool      resourcePool
	bindMap   bindMap
	downloads map[renderer.ResourceID]*wgpu.Buffer

	targetFormat wgpu.TextureFormat
	fullShaders  *renderer.FullShaders
}

type computeShader struct {
	pipeline *wgpu.ComputePipeline
	layouts  []*wgpu.BindGroupLayout
}

type renderShader struct {
	pipeline *wgpu.RenderPipeline
	layouts  []*wgpu.BindGroupLayout
}

type shader struct {
	Label   string
	Compute *computeShader
	Render  *renderShader
}

type ExternalResource interface {
	// One of ExternalBuffer and ExternalImage
}

type ExternalBuffer struct {
	Proxy  renderer.BufferProxy
	Buffer *wgpu.Buffer
}

// ExternalImage provides the render target of Draw commands.
type ExternalImage struct {
	Proxy renderer.ImageProxy
	View  *wgpu.TextureView
}

type bindMapBuffer struct {
	Buffer *wgpu.Buffer
	Label  string
	// External buffers are owned by the caller and never returned to the
	// pool.
	External bool
}

// bindMap maps buffer proxies to buffers. It persists across recordings
// because the renderer's buffers live for as long as the renderer.
type bindMap struct {
	bufs          map[renderer.ResourceID]*bindMapBuffer
	pendingClears map[renderer.ResourceID]struct{}
}

type bufferProperties struct {
	size   uint64
	usages wgpu.BufferUsage
}

type resourcePool struct {
	bufs map[bufferProperties][]*wgpu.Buffer
}

var _ renderer.BufferWriter = (*Engine)(nil)

func New(dev *wgpu.Device, queue *wgpu.Queue, options *Options) *Engine {
	eng := &Engine{
		Device: dev,
		Queue:  queue,
		pool: resourcePool{
			bufs: make(map[bufferProperties][]*wgpu.Buffer),
		},
		bindMap: bindMap{
			bufs:          make(map[renderer.ResourceID]*bindMapBuffer),
			pendingClears: make(map[renderer.ResourceID]struct{}),
		},
		downloads:    make(map[renderer.ResourceID]*wgpu.Buffer),
		targetFormat: options.TargetFormat,
	}
	eng.fullShaders = eng.newFullShaders()
	return eng
}

// Shaders returns the IDs of the renderer's shaders on this engine.
func (eng *Engine) Shaders() *renderer.FullShaders { return eng.fullShaders }

func (eng *Engine) addShader(sh shader) renderer.ShaderID {
	id := len(eng.shaders)
	eng.shaders = append(eng.shaders, sh)
	return renderer.ShaderID(id)
}

func bindGroupLayoutEntries(layout []renderer.BindType, visibility wgpu.ShaderStage) []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, len(layout))
	for i, bindType := range layout {
		var typ wgpu.BufferBindingType
		switch bindType.Type {
		case renderer.BindTypeBuffer:
			typ = wgpu.BufferBindingTypeStorage
		case renderer.BindTypeBufReadOnly:
			typ = wgpu.BufferBindingTypeReadOnlyStorage
		case renderer.BindTypeUniform:
			typ = wgpu.BufferBindingTypeUniform
		default:
			panic(fmt.Sprintf("invalid bind type %d", bindType.Type))
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: visibility,
			Buffer: &wgpu.BufferBindingLayout{
				Type:             typ,
				HasDynamicOffset: false,
				MinBindingSize:   0,
			},
		}
	}
	return entries
}

func (eng *Engine) createBindGroupLayouts(
	label string,
	groups [][]renderer.BindType,
	visibility wgpu.ShaderStage,
) []*wgpu.BindGroupLayout {
	layouts := make([]*wgpu.BindGroupLayout, len(groups))
	for i, group := range groups {
		layouts[i] = eng.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", label, i),
			Entries: bindGroupLayoutEntries(group, visibility),
		})
	}
	return layouts
}

func (eng *Engine) createComputePipeline(
	label string,
	wgsl []byte,
	groups [][]renderer.BindType,
) *computeShader {
	// OPT(dh): use SPIR-V instead of WGSL for faster engine creation.
	shaderModule := eng.Device.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  label,
		Source: wgpu.ShaderSourceWGSL(wgsl),
	})
	defer shaderModule.Release()
	layouts := eng.createBindGroupLayouts(label, groups, wgpu.ShaderStageCompute)
	pipelineLayout := eng.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: layouts,
	})
	defer pipelineLayout.Release()
	pipeline := eng.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shaderModule,
			EntryPoint: "main",
		},
	})
	renderer.Logger().Info("created compute pipeline", "shader", label, "groups", len(groups))
	return &computeShader{
		pipeline: pipeline,
		layouts:  layouts,
	}
}

// createRenderPipeline creates the splat pipeline. Fragments are blended with
// straight alpha into a premultiplied target.
func (eng *Engine) createRenderPipeline(
	label string,
	wgsl []byte,
	vertexEntry string,
	fragmentEntry string,
	groups [][]renderer.BindType,
) *renderShader {
	shaderModule := eng.Device.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  label,
		Source: wgpu.ShaderSourceWGSL(wgsl),
	})
	defer shaderModule.Release()
	layouts := eng.createBindGroupLayouts(label, groups, wgpu.ShaderStageVertex|wgpu.ShaderStageFragment)
	pipelineLayout := eng.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " pipeline layout",
		BindGroupLayouts: layouts,
	})
	defer pipelineLayout.Release()
	pipeline := eng.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  label,
		Layout: pipelineLayout,
		Vertex: &wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: vertexEntry,
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: fragmentEntry,
			Targets: []wgpu.ColorTargetState{
				{
					Format: eng.targetFormat,
					Blend: &wgpu.BlendState{
						Color: wgpu.BlendComponent{
							SrcFactor: wgpu.BlendFactorSrcAlpha,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
							Operation: wgpu.BlendOperationAdd,
						},
						Alpha: wgpu.BlendComponent{
							SrcFactor: wgpu.BlendFactorOne,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
							Operation: wgpu.BlendOperationAdd,
						},
					},
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: &wgpu.PrimitiveState{
			Topology:         wgpu.PrimitiveTopologyTriangleList,
			StripIndexFormat: ^wgpu.IndexFormat(0),
			FrontFace:        wgpu.FrontFaceCCW,
			CullMode:         wgpu.CullModeBack,
		},
		Multisample: &wgpu.MultisampleState{
			Count:                  1,
			Mask:                   ^uint32(0),
			AlphaToCoverageEnabled: false,
		},
	})
	renderer.Logger().Info("created render pipeline", "shader", label, "format", eng.targetFormat)
	return &renderShader{
		pipeline: pipeline,
		layouts:  layouts,
	}
}

// RunRecording encodes all commands of recording into one command buffer and
// submits it. Uploads are written through the queue and thus take effect
// before any command of the recording runs.
func (eng *Engine) RunRecording(
	recording *renderer.Recording,
	externalResources []ExternalResource,
	label string,
	pgroup *ProfilerGroup,
) {
	pgroup = pgroup.Nest("RunRecording")
	defer pgroup.End()

	images := map[renderer.ResourceID]*wgpu.TextureView{}
	for _, res := range externalResources {
		switch res := res.(type) {
		case ExternalBuffer:
			eng.bindMap.bufs[res.Proxy.ID] = &bindMapBuffer{
				Buffer:   res.Buffer,
				Label:    res.Proxy.Name,
				External: true,
			}
		case ExternalImage:
			images[res.Proxy.ID] = res.View
		default:
			panic(fmt.Sprintf("unhandled type %T", res))
		}
	}

	var freeBufs []renderer.ResourceID
	encoder := eng.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})

	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			buf := eng.materialize(encoder, cmd.Buffer, storageUsage)
			eng.Queue.WriteBuffer(buf, 0, cmd.Data)

		case *renderer.UploadUniform:
			buf := eng.materialize(encoder, cmd.Buffer, uniformUsage)
			eng.Queue.WriteBuffer(buf, 0, cmd.Data)

		case *renderer.Dispatch:
			shader := eng.shaders[cmd.Shader]
			s := shader.Compute
			if s == nil {
				panic(fmt.Sprintf("shader %s isn't a compute shader", shader.Label))
			}
			bindGroups := eng.createBindGroups(encoder, s.layouts, cmd.Bindings)

			cpass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{
				Label:           shader.Label,
				TimestampWrites: pgroup.Compute(shader.Label),
			})
			cpass.SetPipeline(s.pipeline)
			for i, bg := range bindGroups {
				cpass.SetBindGroup(uint32(i), bg, nil)
			}
			wg := cmd.WorkgroupCount
			cpass.DispatchWorkgroups(wg[0], wg[1], wg[2])
			cpass.End()
			cpass.Release()
			releaseAll(bindGroups)

		case *renderer.DispatchIndirect:
			shader := eng.shaders[cmd.Shader]
			s := shader.Compute
			if s == nil {
				panic(fmt.Sprintf("shader %s isn't a compute shader", shader.Label))
			}
			bindGroups := eng.createBindGroups(encoder, s.layouts, cmd.Bindings)
			buf, ok := eng.bindMap.getBuf(cmd.Buffer.ID)
			if !ok {
				panic("tried using unavailable buffer for indirect dispatch")
			}

			cpass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{
				Label:           shader.Label,
				TimestampWrites: pgroup.Compute(shader.Label),
			})
			cpass.SetPipeline(s.pipeline)
			for i, bg := range bindGroups {
				cpass.SetBindGroup(uint32(i), bg, nil)
			}
			cpass.DispatchWorkgroupsIndirect(buf, cmd.Offset)
			cpass.End()
			cpass.Release()
			releaseAll(bindGroups)

		case *renderer.CopyBuffer:
			src := eng.materialize(encoder, cmd.Src, storageUsage)
			dst := eng.materialize(encoder, cmd.Dst, storageUsage)
			encoder.CopyBufferToBuffer(src, cmd.SrcOffset, dst, cmd.DstOffset, cmd.Size)

		case *renderer.Draw:
			shader := eng.shaders[cmd.Shader]
			s := shader.Render
			if s == nil {
				panic(fmt.Sprintf("shader %s isn't a render shader", shader.Label))
			}
			view, ok := images[cmd.Target.ID]
			if !ok {
				panic(fmt.Sprintf("no external image for draw target %s", cmd.Target.Name))
			}
			bindGroups := eng.createBindGroups(encoder, s.layouts, cmd.Bindings)
			indirect, ok := eng.bindMap.getBuf(cmd.Indirect.ID)
			if !ok {
				panic("tried using unavailable buffer for indirect draw")
			}

			clearColor := cmd.Background
			renderPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
				ColorAttachments: []wgpu.RenderPassColorAttachment{
					{
						View:    view,
						LoadOp:  wgpu.LoadOpClear,
						StoreOp: wgpu.StoreOpStore,
						ClearValue: wgpu.Color{
							R: float64(clearColor[0]),
							G: float64(clearColor[1]),
							B: float64(clearColor[2]),
							A: float64(clearColor[3]),
						},
					},
				},
				TimestampWrites: pgroup.Render(shader.Label),
			})
			renderPass.SetPipeline(s.pipeline)
			for i, bg := range bindGroups {
				renderPass.SetBindGroup(uint32(i), bg, nil)
			}
			renderPass.DrawIndirect(indirect, cmd.Offset)
			renderPass.End()
			renderPass.Release()
			releaseAll(bindGroups)

		case *renderer.Download:
			proxy := cmd.Buffer
			srcBuf, ok := eng.bindMap.getBuf(proxy.ID)
			if !ok {
				panic("tried using unavailable buffer for download")
			}
			usage := wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
			buf := eng.pool.getBuf(proxy.Size, "download", usage, eng.Device)
			encoder.CopyBufferToBuffer(srcBuf, 0, buf, 0, proxy.Size)
			if old, ok := eng.downloads[proxy.ID]; ok {
				eng.pool.put(old)
			}
			eng.downloads[proxy.ID] = buf

		case *renderer.Clear:
			proxy := cmd.Buffer
			size := uint64(cmd.Size)
			if cmd.Size < 0 {
				size = proxy.Size - cmd.Offset
			}
			if buf, ok := eng.bindMap.getBuf(proxy.ID); ok {
				encoder.ClearBuffer(buf, cmd.Offset, size)
			} else {
				eng.bindMap.pendingClears[proxy.ID] = struct{}{}
			}

		case *renderer.FreeBuffer:
			freeBufs = append(freeBufs, cmd.Buffer.ID)

		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}

	cmd := encoder.Finish(nil)
	encoder.Release()
	eng.Queue.Submit(cmd)
	cmd.Release()

	for _, id := range freeBufs {
		if buf, ok := eng.bindMap.bufs[id]; ok {
			delete(eng.bindMap.bufs, id)
			if !buf.External {
				eng.pool.put(buf.Buffer)
			}
		}
		delete(eng.bindMap.pendingClears, id)
	}
	for _, res := range externalResources {
		if res, ok := res.(ExternalBuffer); ok {
			delete(eng.bindMap.bufs, res.Proxy.ID)
		}
	}
}

// WriteBuffer writes data to an existing buffer. The write takes effect
// before any recording that is run afterwards.
func (eng *Engine) WriteBuffer(proxy renderer.BufferProxy, offset uint64, data []byte) {
	buf, ok := eng.bindMap.getBuf(proxy.ID)
	if !ok {
		panic(fmt.Sprintf("writing to unknown buffer %s", proxy.Name))
	}
	eng.Queue.WriteBuffer(buf, offset, data)
}

// MapDownload starts mapping the result of a Download command. The returned
// channel receives once ReadDownload may be called.
func (eng *Engine) MapDownload(proxy renderer.BufferProxy) <-chan error {
	buf, ok := eng.downloads[proxy.ID]
	if !ok {
		panic(fmt.Sprintf("no download for buffer %s", proxy.Name))
	}
	return buf.Map(eng.Device, wgpu.MapModeRead, 0, int(proxy.Size))
}

// ReadDownload returns a copy of a mapped download and frees the download.
func (eng *Engine) ReadDownload(proxy renderer.BufferProxy) []byte {
	buf, ok := eng.downloads[proxy.ID]
	if !ok {
		panic(fmt.Sprintf("no download for buffer %s", proxy.Name))
	}
	out := make([]byte, proxy.Size)
	copy(out, buf.ReadOnlyMappedRange(0, int(proxy.Size)))
	buf.Unmap()
	delete(eng.downloads, proxy.ID)
	eng.pool.put(buf)
	return out
}

// Release releases all pooled and bound buffers and all pipelines.
func (eng *Engine) Release() {
	for _, b := range eng.bindMap.bufs {
		if !b.External {
			b.Buffer.Release()
		}
	}
	clear(eng.bindMap.bufs)
	for _, buf := range eng.downloads {
		buf.Release()
	}
	clear(eng.downloads)
	for _, bufs := range eng.pool.bufs {
		for _, buf := range bufs {
			buf.Release()
		}
	}
	clear(eng.pool.bufs)
	for _, sh := range eng.shaders {
		if sh.Compute != nil {
			sh.Compute.pipeline.Release()
			releaseAll(sh.Compute.layouts)
		}
		if sh.Render != nil {
			sh.Render.pipeline.Release()
			releaseAll(sh.Render.layouts)
		}
	}
	eng.shaders = nil
}

func releaseAll[T interface{ Release() }](objs []T) {
	for _, o := range objs {
		o.Release()
	}
}

// materialize returns the buffer bound to proxy, creating it if needed.
func (eng *Engine) materialize(
	encoder *wgpu.CommandEncoder,
	proxy renderer.BufferProxy,
	usage wgpu.BufferUsage,
) *wgpu.Buffer {
	if b, ok := eng.bindMap.getBuf(proxy.ID); ok {
		return b
	}
	buf := eng.pool.getBuf(proxy.Size, proxy.Name, usage, eng.Device)
	if _, ok := eng.bindMap.pendingClears[proxy.ID]; ok {
		delete(eng.bindMap.pendingClears, proxy.ID)
		encoder.ClearBuffer(buf, 0, buf.Size())
	}
	eng.bindMap.bufs[proxy.ID] = &bindMapBuffer{
		Buffer: buf,
		Label:  proxy.Name,
	}
	return buf
}

func (eng *Engine) createBindGroups(
	encoder *wgpu.CommandEncoder,
	layouts []*wgpu.BindGroupLayout,
	bindings [][]renderer.BufferProxy,
) []*wgpu.BindGroup {
	if len(layouts) != len(bindings) {
		panic(fmt.Sprintf("got %d bind groups, layout has %d", len(bindings), len(layouts)))
	}
	out := make([]*wgpu.BindGroup, len(bindings))
	for g, group := range bindings {
		entries := make([]wgpu.BindGroupEntry, len(group))
		for i, proxy := range group {
			buf := eng.materialize(encoder, proxy, storageUsage)
			entries[i] = wgpu.BindGroupEntry{
				Binding: uint32(i),
				Buffer:  buf,
				// Pooled buffers may be larger than the proxy. Kernels use
				// arrayLength, so bind the exact size.
				Size: proxy.Size,
			}
		}
		out[g] = eng.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Layout:  layouts[g],
			Entries: entries,
		})
	}
	return out
}

func (m *bindMap) getBuf(id renderer.ResourceID) (*wgpu.Buffer, bool) {
	b, ok := m.bufs[id]
	if !ok {
		return nil, false
	}
	return b.Buffer, true
}

func (pool *resourcePool) getBuf(
	size uint64,
	name string,
	usage wgpu.BufferUsage,
	dev *wgpu.Device,
) *wgpu.Buffer {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	props := bufferProperties{
		size:   roundedSize,
		usages: usage,
	}
	if bufVec, ok := pool.bufs[props]; ok {
		if len(bufVec) > 0 {
			buf := bufVec[len(bufVec)-1]
			bufVec = bufVec[:len(bufVec)-1]
			pool.bufs[props] = bufVec
			return buf
		}
	}
	return dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  roundedSize,
		Usage: usage,
	})
}

func (pool *resourcePool) put(buf *wgpu.Buffer) {
	props := bufferProperties{
		size:   buf.Size(),
		usages: buf.Usage(),
	}
	pool.bufs[props] = append(pool.bufs[props], buf)
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}
