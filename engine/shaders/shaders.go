// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shaders describes the kernels of the splat renderer and embeds
// their WGSL sources.
package shaders

import (
	"embed"
	"fmt"

	"honnef.co/go/splat/engine/shaders/wgslpp"
)

//go:embed wgsl
var Sources embed.FS

type BindType int

const (
	Buffer BindType = iota + 1
	BufReadOnly
	Uniform
)

func (typ BindType) IsMutable() bool {
	return typ == Buffer
}

type ComputeShader struct {
	Name          string
	WorkgroupSize [3]uint32
	// Bind group layouts, one slice of bindings per group.
	Bindings [][]BindType
	WGSL     WGSLSource
}

type RenderShader struct {
	Name          string
	VertexEntry   string
	FragmentEntry string
	Bindings      [][]BindType
	WGSL          WGSLSource
}

type WGSLSource struct {
	Code []byte
}

// Collection contains every shader of the renderer. Field names match those
// of renderer.FullShaders.
var Collection = struct {
	Preprocess    ComputeShader
	SortHistogram ComputeShader
	SortScan      ComputeShader
	SortScatter   ComputeShader
	Gaussian      RenderShader
}{
	Preprocess: ComputeShader{
		Name:          "preprocess",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings: [][]BindType{
			{Uniform, Uniform},
			{BufReadOnly, Buffer, BufReadOnly},
			{Buffer, Buffer, Buffer, Buffer},
		},
		WGSL: mustLoad("preprocess"),
	},
	SortHistogram: ComputeShader{
		Name:          "sort_histogram",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings: [][]BindType{
			{BufReadOnly, Uniform},
			{BufReadOnly, Buffer},
		},
		WGSL: mustLoad("sort_histogram"),
	},
	SortScan: ComputeShader{
		Name:          "sort_scan",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings: [][]BindType{
			{BufReadOnly},
			{Buffer},
		},
		WGSL: mustLoad("sort_scan"),
	},
	SortScatter: ComputeShader{
		Name:          "sort_scatter",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings: [][]BindType{
			{BufReadOnly, Uniform},
			{BufReadOnly, BufReadOnly, Buffer, Buffer, BufReadOnly},
		},
		WGSL: mustLoad("sort_scatter"),
	},
	Gaussian: RenderShader{
		Name:          "gaussian",
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		Bindings: [][]BindType{
			{Uniform, Uniform},
			{BufReadOnly, BufReadOnly},
		},
		WGSL: mustLoad("gaussian"),
	},
}

// Load preprocesses the kernel called name.
func Load(name string) ([]byte, error) {
	p := wgslpp.Preprocessor{
		FS:        Sources,
		ImportDir: "wgsl/shared",
	}
	return p.PreprocessFile("wgsl/" + name + ".wgsl")
}

func mustLoad(name string) WGSLSource {
	code, err := Load(name)
	if err != nil {
		panic(fmt.Sprintf("couldn't load shader %q: %s", name, err))
	}
	return WGSLSource{Code: code}
}
