// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/safeish"
)

const fakeSortShader ShaderID = 100

type fakeSorter struct {
	bufs     SortBuffers
	capacity uint32
	setups   int
	sorts    int
}

func newFakeSorter(capacity uint32) *fakeSorter {
	s := &fakeSorter{capacity: capacity}
	s.bufs.Info = NewBufferProxy(16, "info")
	s.bufs.Dispatch = NewBufferProxy(12, "dispatch")
	for i := range s.bufs.PingPong {
		s.bufs.PingPong[i] = SortSlot{
			Keys:   NewBufferProxy(uint64(capacity)*4, "keys"),
			Values: NewBufferProxy(uint64(capacity)*4, "values"),
		}
	}
	return s
}

func (s *fakeSorter) Buffers() *SortBuffers { return &s.bufs }
func (s *fakeSorter) Result() BufferProxy   { return s.bufs.PingPong[0].Values }
func (s *fakeSorter) Capacity() uint32      { return s.capacity }
func (s *fakeSorter) Setup(rec *Recording)  { s.setups++ }
func (s *fakeSorter) Sort(rec *Recording) {
	s.sorts++
	rec.Dispatch(fakeSortShader, [3]uint32{1, 1, 1}, nil)
}

type write struct {
	buf    BufferProxy
	offset uint64
	data   []byte
}

type fakeWriter struct {
	writes []write
}

func (w *fakeWriter) WriteBuffer(buf BufferProxy, offset uint64, data []byte) {
	w.writes = append(w.writes, write{buf, offset, append([]byte(nil), data...)})
}

var testShaders = FullShaders{
	Preprocess:    1,
	SortHistogram: 2,
	SortScan:      3,
	SortScatter:   4,
	Gaussian:      5,
}

func testCloud(n uint32) PointCloud {
	return PointCloud{
		Gaussians: NewBufferProxy(uint64(n)*24, "gaussians"),
		SH:        NewBufferProxy(uint64(n)*96, "sh"),
		NumPoints: n,
		SHDegree:  3,
	}
}

func newTestRenderer(t *testing.T, n uint32) (*Renderer, *fakeSorter) {
	t.Helper()
	sorter := newFakeSorter(n)
	rd, err := New(&testShaders, testCloud(n), NewBufferProxy(CameraUniformSize, "camera"), sorter, nil)
	require.NoError(t, err)
	return rd, sorter
}

func TestNewErrors(t *testing.T) {
	camera := NewBufferProxy(CameraUniformSize, "camera")

	_, err := New(&testShaders, testCloud(0), camera, newFakeSorter(256), nil)
	assert.ErrorIs(t, err, ErrEmptyPointCloud)

	_, err = New(&testShaders, testCloud(300), camera, newFakeSorter(256), nil)
	assert.ErrorIs(t, err, ErrSorterCapacity)

	small := NewBufferProxy(CameraUniformSize-16, "camera")
	_, err = New(&testShaders, testCloud(10), small, newFakeSorter(256), nil)
	assert.ErrorIs(t, err, ErrCameraBuffer)
}

func TestBufferSizes(t *testing.T) {
	rd, _ := newTestRenderer(t, 1000)
	res := rd.Resources()
	assert.EqualValues(t, 1000*20, res.Splats.Size)
	assert.EqualValues(t, 16, res.IndirectArgs.Size)
	assert.EqualValues(t, 8, res.Settings.Size)
	assert.EqualValues(t, 4, res.Zero.Size)
	assert.Equal(t, WorkgroupSize{4, 1, 1}, rd.wgCounts.Preprocess)
}

func TestSetup(t *testing.T) {
	rd, sorter := newTestRenderer(t, 42)
	var rec Recording
	rd.Setup(&rec)
	assert.Equal(t, 1, sorter.setups)

	res := rd.Resources()
	uploads := map[ResourceID][]byte{}
	for _, cmd := range rec.Commands {
		switch cmd := cmd.(type) {
		case *Upload:
			uploads[cmd.Buffer.ID] = cmd.Data
		case *UploadUniform:
			uploads[cmd.Buffer.ID] = cmd.Data
		}
	}

	require.Contains(t, uploads, res.Zero.ID)
	assert.Equal(t, []byte{0, 0, 0, 0}, uploads[res.Zero.ID])

	require.Contains(t, uploads, res.IndirectArgs.ID)
	args := safeish.SliceCast[[]uint32](uploads[res.IndirectArgs.ID])
	assert.Equal(t, []uint32{6, 42, 0, 0}, args)

	require.Contains(t, uploads, res.Settings.ID)
	settings := uploads[res.Settings.ID]
	assert.Equal(t, float32(1), safeish.SliceCast[[]float32](settings[0:4])[0])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(settings[4:8]))
}

func TestRenderFrameOrder(t *testing.T) {
	rd, sorter := newTestRenderer(t, 10)
	target := NewImageProxy(64, 32, "target")
	var rec Recording
	rd.RenderFrame(&rec, target, nil)
	assert.Equal(t, 1, sorter.sorts)

	require.Len(t, rec.Commands, 6)
	res := rd.Resources()
	sb := sorter.Buffers()

	reset1, ok := rec.Commands[0].(*CopyBuffer)
	require.True(t, ok)
	assert.Equal(t, CopyBuffer{Src: res.Zero, Dst: sb.Info, DstOffset: 0, Size: 4}, *reset1)

	reset2, ok := rec.Commands[1].(*CopyBuffer)
	require.True(t, ok)
	assert.Equal(t, CopyBuffer{Src: res.Zero, Dst: sb.Dispatch, DstOffset: 0, Size: 4}, *reset2)

	pre, ok := rec.Commands[2].(*Dispatch)
	require.True(t, ok)
	assert.Equal(t, testShaders.Preprocess, pre.Shader)
	assert.Equal(t, [3]uint32{1, 1, 1}, pre.WorkgroupCount)
	assert.Equal(t, res.PreprocessBindings(), pre.Bindings)

	sort, ok := rec.Commands[3].(*Dispatch)
	require.True(t, ok)
	assert.Equal(t, fakeSortShader, sort.Shader)

	count, ok := rec.Commands[4].(*CopyBuffer)
	require.True(t, ok)
	assert.Equal(t, CopyBuffer{Src: sb.Info, SrcOffset: 0, Dst: res.IndirectArgs, DstOffset: 4, Size: 4}, *count)

	draw, ok := rec.Commands[5].(*Draw)
	require.True(t, ok)
	assert.Equal(t, testShaders.Gaussian, draw.Shader)
	assert.Equal(t, target, draw.Target)
	assert.Equal(t, res.IndirectArgs, draw.Indirect)
	assert.EqualValues(t, 0, draw.Offset)
	assert.Equal(t, [][]BufferProxy{
		{rd.res.camera, res.Settings},
		{res.Splats, sb.PingPong[0].Values},
	}, draw.Bindings)
}

func TestPreprocessBindings(t *testing.T) {
	rd, sorter := newTestRenderer(t, 10)
	cloud := rd.res.cloud
	sb := sorter.Buffers()
	assert.Equal(t, [][]BufferProxy{
		{rd.res.camera, rd.res.Settings},
		{cloud.Gaussians, rd.res.Splats, cloud.SH},
		{sb.Info, sb.PingPong[0].Keys, sb.PingPong[0].Values, sb.Dispatch},
	}, rd.res.PreprocessBindings())
}

func TestRenderFrameRepeatable(t *testing.T) {
	rd, _ := newTestRenderer(t, 10)
	target := NewImageProxy(8, 8, "target")
	var a, b Recording
	rd.RenderFrame(&a, target, nil)
	rd.RenderFrame(&b, target, nil)
	assert.Equal(t, a.Commands, b.Commands)

	a.Reset()
	assert.Empty(t, a.Commands)
}

func TestUpdateScale(t *testing.T) {
	rd, _ := newTestRenderer(t, 10)
	var w fakeWriter
	rd.UpdateScale(&w, 2.5)
	rd.UpdateScale(&w, 2.5)
	require.Len(t, w.writes, 2)
	assert.Equal(t, w.writes[0], w.writes[1])
	assert.Equal(t, rd.res.Settings, w.writes[0].buf)
	assert.EqualValues(t, 0, w.writes[0].offset)
	assert.Equal(t, float32(2.5), safeish.SliceCast[[]float32](w.writes[0].data[0:4])[0])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(w.writes[0].data[4:8]))
	assert.Equal(t, RenderSettings{Scale: 2.5, SHDegree: 3}, rd.Settings())
}

func TestSHDegreeClamped(t *testing.T) {
	cloud := testCloud(10)
	cloud.SHDegree = 7
	rd, err := New(&testShaders, cloud, NewBufferProxy(CameraUniformSize, "camera"), newFakeSorter(10), &Options{Scale: 0.5})
	require.NoError(t, err)
	assert.Equal(t, RenderSettings{Scale: 0.5, SHDegree: MaxSHDegree}, rd.Settings())
}
