// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package radix implements a stable GPU radix sort of uint32 key/value pairs.
//
// Each of the four passes sorts by eight bits of the key. A pass consists of
// three kernels:
//
//  1. sort_histogram counts the digits of each block of SortBlockSize keys and
//     stores the counts digit-major, i.e. hist[digit*numBlocks+block].
//  2. sort_scan turns the counts into an exclusive prefix sum in a single
//     workgroup. Because of the digit-major layout, the sum at
//     hist[digit*numBlocks+block] is the first output slot of that digit in
//     that block.
//  3. sort_scatter ranks every key among the keys of its block that have the
//     same digit and writes the pair to the other ping-pong slot.
//
// The number of keys and blocks is only known on the GPU, so histogram and
// scatter are dispatched indirectly and all kernels read the key count from
// the info buffer. Four passes alternate between the slots and end in slot 0.
package radix

import (
	"structs"

	"honnef.co/go/safeish"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/splat/smath"
)

const (
	// Bits sorted per pass.
	RadixBits = 8
	// Number of distinct digits per pass.
	RadixSize = 1 << RadixBits
	// Number of passes needed to sort 32-bit keys.
	Passes = 32 / RadixBits
	// Keys per workgroup.
	BlockSize = renderer.SortBlockSize
)

// PassUniform selects the digit a pass sorts by.
//
// This data structure must be kept in sync with the definition in
// `shaders/wgsl/shared/sort.wgsl`.
type PassUniform struct {
	_ structs.HostLayout

	Shift uint32
	_     uint32 // padding
	_     uint32 // padding
	_     uint32 // padding
}

type Options struct {
	// Maximum number of pairs to sort. It is rounded up to a multiple of
	// BlockSize.
	Capacity uint32
}

// Sorter implements renderer.Sorter.
type Sorter struct {
	shaders   *renderer.FullShaders
	capacity  uint32
	bufs      renderer.SortBuffers
	histogram renderer.BufferProxy
	passes    [Passes]renderer.BufferProxy
}

var _ renderer.Sorter = (*Sorter)(nil)

func New(shaders *renderer.FullShaders, opts *Options) *Sorter {
	capacity := smath.AlignUp(max(opts.Capacity, 1), BlockSize)
	numBlocks := capacity / BlockSize

	s := &Sorter{
		shaders:  shaders,
		capacity: capacity,
	}
	infoSize := renderer.NewBufferSize[renderer.SortInfo](1)
	dispatchSize := renderer.NewBufferSize[renderer.DispatchIndirectArgs](1)
	pairSize := renderer.NewBufferSize[uint32](capacity)
	s.bufs.Info = renderer.NewBufferProxy(infoSize.SizeInBytes(), "sortInfoBuf")
	s.bufs.Dispatch = renderer.NewBufferProxy(dispatchSize.SizeInBytes(), "sortDispatchBuf")
	for i := range s.bufs.PingPong {
		s.bufs.PingPong[i] = renderer.SortSlot{
			Keys:   renderer.NewBufferProxy(pairSize.SizeInBytes(), "sortKeysBuf"),
			Values: renderer.NewBufferProxy(pairSize.SizeInBytes(), "sortValuesBuf"),
		}
	}
	histSize := renderer.NewBufferSize[uint32](RadixSize * numBlocks)
	s.histogram = renderer.NewBufferProxy(histSize.SizeInBytes(), "sortHistogramBuf")
	for i := range s.passes {
		s.passes[i] = renderer.NewBufferProxy(
			renderer.NewBufferSize[PassUniform](1).SizeInBytes(),
			"sortPassBuf",
		)
	}

	renderer.Logger().Debug("created radix sorter",
		"capacity", capacity,
		"blocks", numBlocks,
		"histogramBytes", s.histogram.Size)
	return s
}

func (s *Sorter) Buffers() *renderer.SortBuffers { return &s.bufs }
func (s *Sorter) Capacity() uint32               { return s.capacity }

// Result returns the values of slot 0. An even number of passes always ends
// where it started.
func (s *Sorter) Result() renderer.BufferProxy { return s.bufs.PingPong[0].Values }

func (s *Sorter) Setup(rec *renderer.Recording) {
	info := renderer.SortInfo{Capacity: s.capacity}
	rec.UploadInto(s.bufs.Info, safeish.AsBytes(&info))
	dispatch := renderer.DispatchIndirectArgs{X: 0, Y: 1, Z: 1}
	rec.UploadInto(s.bufs.Dispatch, safeish.AsBytes(&dispatch))
	for i, buf := range s.passes {
		u := PassUniform{Shift: uint32(i * RadixBits)}
		rec.UploadUniformInto(buf, safeish.AsBytes(&u))
	}
	for _, slot := range s.bufs.PingPong {
		rec.ClearAll(slot.Keys)
		rec.ClearAll(slot.Values)
	}
	rec.ClearAll(s.histogram)
}

func (s *Sorter) Sort(rec *renderer.Recording) {
	for pass := range Passes {
		src := s.bufs.PingPong[pass%2]
		dst := s.bufs.PingPong[(pass+1)%2]
		uniform := s.passes[pass]

		rec.DispatchIndirect(s.shaders.SortHistogram, s.bufs.Dispatch, 0, [][]renderer.BufferProxy{
			{s.bufs.Info, uniform},
			{src.Keys, s.histogram},
		})
		rec.Dispatch(s.shaders.SortScan, [3]uint32{1, 1, 1}, [][]renderer.BufferProxy{
			{s.bufs.Info},
			{s.histogram},
		})
		rec.DispatchIndirect(s.shaders.SortScatter, s.bufs.Dispatch, 0, [][]renderer.BufferProxy{
			{s.bufs.Info, uniform},
			{src.Keys, src.Values, dst.Keys, dst.Values, s.histogram},
		})
	}
}

// Free records the release of all of the sorter's buffers.
func (s *Sorter) Free(rec *renderer.Recording) {
	rec.FreeBuffer(s.bufs.Info)
	rec.FreeBuffer(s.bufs.Dispatch)
	for _, slot := range s.bufs.PingPong {
		rec.FreeBuffer(slot.Keys)
		rec.FreeBuffer(slot.Values)
	}
	rec.FreeBuffer(s.histogram)
	for _, buf := range s.passes {
		rec.FreeBuffer(buf)
	}
}
