// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"fmt"
	"reflect"

	"honnef.co/go/splat/engine/shaders"
	"honnef.co/go/splat/renderer"
	"honnef.co/go/wgpu"
)

type Options struct {
	// Format of the textures that Draw commands render to.
	TargetFormat wgpu.TextureFormat
}

var bindTypeMapping = [...]renderer.BindType{
	shaders.Buffer:      {Type: renderer.BindTypeBuffer},
	shaders.BufReadOnly: {Type: renderer.BindTypeBufReadOnly},
	shaders.Uniform:     {Type: renderer.BindTypeUniform},
}

func mapBindings(groups [][]shaders.BindType) [][]renderer.BindType {
	out := make([][]renderer.BindType, len(groups))
	for g, group := range groups {
		out[g] = make([]renderer.BindType, len(group))
		for i, b := range group {
			out[g][i] = bindTypeMapping[b]
		}
	}
	return out
}

// newFullShaders creates a pipeline for every shader in shaders.Collection
// and stores its ID in the field of the same name.
func (eng *Engine) newFullShaders() *renderer.FullShaders {
	var out renderer.FullShaders
	outV := reflect.ValueOf(&out).Elem()
	v := reflect.ValueOf(&shaders.Collection).Elem()
	for i := range v.NumField() {
		fieldName := v.Type().Field(i).Name
		outField := outV.FieldByName(fieldName)
		if !outField.IsValid() {
			continue
		}
		var id renderer.ShaderID
		switch sh := v.Field(i).Addr().Interface().(type) {
		case *shaders.ComputeShader:
			if len(sh.WGSL.Code) == 0 {
				panic(fmt.Sprintf("shader %q has no code", sh.Name))
			}
			id = eng.addShader(shader{
				Label:   sh.Name,
				Compute: eng.createComputePipeline(sh.Name, sh.WGSL.Code, mapBindings(sh.Bindings)),
			})
		case *shaders.RenderShader:
			if len(sh.WGSL.Code) == 0 {
				panic(fmt.Sprintf("shader %q has no code", sh.Name))
			}
			id = eng.addShader(shader{
				Label: sh.Name,
				Render: eng.createRenderPipeline(
					sh.Name, sh.WGSL.Code, sh.VertexEntry, sh.FragmentEntry, mapBindings(sh.Bindings)),
			})
		default:
			panic(fmt.Sprintf("unhandled type %T", sh))
		}
		outField.Set(reflect.ValueOf(id))
	}
	return &out
}
