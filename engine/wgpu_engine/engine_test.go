// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"honnef.co/go/splat/engine/shaders"
	"honnef.co/go/splat/renderer"
)

func TestPoolSizeClass(t *testing.T) {
	tests := []struct {
		in, out uint64
	}{
		{0, 2},
		{2, 2},
		{4, 4},
		{5, 6},
		{7, 8},
		{9, 12},
		{100, 128},
		{272, 384},
	}
	for _, tt := range tests {
		got := poolSizeClass(tt.in, 1)
		assert.Equal(t, tt.out, got, "poolSizeClass(%d)", tt.in)
		assert.GreaterOrEqual(t, got, tt.in)
	}
}

func TestMapBindings(t *testing.T) {
	got := mapBindings(shaders.Collection.SortScatter.Bindings)
	want := [][]renderer.BindType{
		{{Type: renderer.BindTypeBufReadOnly}, {Type: renderer.BindTypeUniform}},
		{
			{Type: renderer.BindTypeBufReadOnly},
			{Type: renderer.BindTypeBufReadOnly},
			{Type: renderer.BindTypeBuffer},
			{Type: renderer.BindTypeBuffer},
			{Type: renderer.BindTypeBufReadOnly},
		},
	}
	assert.Equal(t, want, got)
}

func TestProfilerResultWalk(t *testing.T) {
	res := ProfilerResult{
		Label: "frame",
		Queries: []ProfilerQueryResult{
			{Label: "preprocess", Start: 100, End: 200},
		},
		Children: []ProfilerResult{
			{
				Label: "sort",
				Queries: []ProfilerQueryResult{
					{Label: "sort_histogram", Start: 200, End: 250},
					// Timestamps may wrap or be reset by the driver.
					{Label: "sort_scan", Start: 300, End: 250},
				},
			},
		},
	}
	var labels []string
	var depths []int
	res.Walk(func(depth int, r *ProfilerResult) {
		labels = append(labels, r.Label)
		depths = append(depths, depth)
	})
	assert.Equal(t, []string{"frame", "sort"}, labels)
	assert.Equal(t, []int{0, 1}, depths)
	assert.Equal(t, 300*time.Nanosecond, res.GPUTime(2))
}

func TestNilProfilerGroup(t *testing.T) {
	var g *ProfilerGroup
	assert.Nil(t, g.Nest("x"))
	assert.Nil(t, g.Compute("x"))
	assert.Nil(t, g.Render("x"))
	assert.Zero(t, g.Begin(nil, "x"))
	g.End()
}
