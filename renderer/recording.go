// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"sync/atomic"
)

var resourceID atomic.Uint64

func nextResourceID() ResourceID {
	return ResourceID(resourceID.Add(1))
}

type ResourceID uint64

// Recording is an ordered batch of GPU commands. Executors run the commands
// in order, on a single command encoder, and submit them once.
type Recording struct {
	Commands []Command
}

// Reset empties the recording so that its backing storage can be reused for
// the next frame.
func (rec *Recording) Reset() {
	clear(rec.Commands)
	rec.Commands = rec.Commands[:0]
}

func (rec *Recording) push(cmd Command) {
	rec.Commands = append(rec.Commands, cmd)
}

func (rec *Recording) Upload(name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(&Upload{buf, data})
	return buf
}

func (rec *Recording) UploadUniform(name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(&UploadUniform{buf, data})
	return buf
}

// UploadInto writes data to the start of an existing storage buffer.
func (rec *Recording) UploadInto(buf BufferProxy, data []byte) {
	if uint64(len(data)) > buf.Size {
		panic("upload larger than buffer")
	}
	rec.push(&Upload{buf, data})
}

// UploadUniformInto writes data to the start of an existing uniform buffer.
func (rec *Recording) UploadUniformInto(buf BufferProxy, data []byte) {
	if uint64(len(data)) > buf.Size {
		panic("upload larger than buffer")
	}
	rec.push(&UploadUniform{buf, data})
}

func (rec *Recording) Dispatch(shader ShaderID, wgCount [3]uint32, bindings [][]BufferProxy) {
	rec.push(&Dispatch{shader, wgCount, bindings})
}

func (rec *Recording) DispatchIndirect(
	shader ShaderID,
	buf BufferProxy,
	offset uint64,
	bindings [][]BufferProxy,
) {
	rec.push(&DispatchIndirect{shader, buf, offset, bindings})
}

func (rec *Recording) CopyBuffer(src BufferProxy, srcOffset uint64, dst BufferProxy, dstOffset uint64, size uint64) {
	if srcOffset+size > src.Size || dstOffset+size > dst.Size {
		panic("buffer copy out of bounds")
	}
	rec.push(&CopyBuffer{
		Src:       src,
		SrcOffset: srcOffset,
		Dst:       dst,
		DstOffset: dstOffset,
		Size:      size,
	})
}

func (rec *Recording) Draw(
	shader ShaderID,
	target ImageProxy,
	background [4]float32,
	indirect BufferProxy,
	offset uint64,
	bindings [][]BufferProxy,
) {
	rec.push(&Draw{
		Shader:     shader,
		Target:     target,
		Background: background,
		Indirect:   indirect,
		Offset:     offset,
		Bindings:   bindings,
	})
}

func (rec *Recording) Download(buf BufferProxy) {
	rec.push(&Download{buf})
}

func (rec *Recording) ClearAll(buf BufferProxy) {
	rec.push(&Clear{buf, 0, -1})
}

func (rec *Recording) FreeBuffer(buf BufferProxy) {
	rec.push(&FreeBuffer{buf})
}

func NewBufferProxy(size uint64, name string) BufferProxy {
	id := nextResourceID()
	return BufferProxy{size, id, name}
}

func NewImageProxy(width, height uint32, name string) ImageProxy {
	id := nextResourceID()
	return ImageProxy{
		Width:  width,
		Height: height,
		ID:     id,
		Name:   name,
	}
}

type BufferProxy struct {
	Size uint64
	ID   ResourceID
	Name string
}

// ImageProxy names a render target. Its storage is always provided by the
// caller when the recording is executed.
type ImageProxy struct {
	Width  uint32
	Height uint32
	ID     ResourceID
	Name   string
}

type ShaderID int

type Command interface {
	isCommand()
}

func (*Upload) isCommand()           {}
func (*UploadUniform) isCommand()    {}
func (*Dispatch) isCommand()         {}
func (*DispatchIndirect) isCommand() {}
func (*CopyBuffer) isCommand()       {}
func (*Draw) isCommand()             {}
func (*Download) isCommand()         {}
func (*Clear) isCommand()            {}
func (*FreeBuffer) isCommand()       {}

type BindTypeType int

const (
	BindTypeBuffer BindTypeType = iota + 1
	BindTypeBufReadOnly
	BindTypeUniform
)

type BindType struct {
	Type BindTypeType
}

type Upload struct {
	Buffer BufferProxy
	Data   []byte
}

type UploadUniform struct {
	Buffer BufferProxy
	Data   []byte
}

// Dispatch runs a compute shader. Bindings holds one slice of buffers per
// bind group, in group order.
type Dispatch struct {
	Shader         ShaderID
	WorkgroupCount [3]uint32
	Bindings       [][]BufferProxy
}

// DispatchIndirect runs a compute shader with the workgroup count read from
// Buffer at Offset.
type DispatchIndirect struct {
	Shader   ShaderID
	Buffer   BufferProxy
	Offset   uint64
	Bindings [][]BufferProxy
}

type CopyBuffer struct {
	Src       BufferProxy
	SrcOffset uint64
	Dst       BufferProxy
	DstOffset uint64
	Size      uint64
}

// Draw runs a render pass on Target. The target is cleared to Background
// (premultiplied RGBA), then the draw arguments are read from Indirect at
// Offset.
type Draw struct {
	Shader     ShaderID
	Target     ImageProxy
	Background [4]float32
	Indirect   BufferProxy
	Offset     uint64
	Bindings   [][]BufferProxy
}

type Download struct {
	Buffer BufferProxy
}

type Clear struct {
	Buffer BufferProxy
	Offset uint64
	Size   int64
}

type FreeBuffer struct {
	Buffer BufferProxy
}
