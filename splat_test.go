// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"image"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"honnef.co/go/safeish"
	"honnef.co/go/splat/camera"
	"honnef.co/go/splat/engine/cpu_engine"
	"honnef.co/go/splat/pointcloud"
	"honnef.co/go/splat/renderer"
)

func TestNewSceneErrors(t *testing.T) {
	shaders := cpu_engine.New().Shaders()
	pc := pointcloud.Random(rand.New(rand.NewPCG(1, 1)), 10, 1)
	cam := camera.New(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{}, 16, 16)

	var rec renderer.Recording
	_, err := newScene(shaders, &rec, pc, nil, &Options{})
	assert.ErrorIs(t, err, ErrNoCamera)
	_, err = newScene(shaders, &rec, pc, camera.New(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, 0, 16), &Options{})
	assert.ErrorIs(t, err, ErrCameraSize)
	_, err = newScene(shaders, &rec, &pointcloud.PointCloud{}, cam, &Options{})
	assert.ErrorIs(t, err, renderer.ErrEmptyPointCloud)
	bad := &pointcloud.PointCloud{Gaussians: []pointcloud.Gaussian{{Opacity: 2, Rotation: mgl32.QuatIdent()}}}
	_, err = newScene(shaders, &rec, bad, cam, &Options{})
	assert.ErrorIs(t, err, pointcloud.ErrInvalid)
	assert.Empty(t, rec.Commands)
}

func TestSceneLifecycle(t *testing.T) {
	eng := cpu_engine.New()
	pc := pointcloud.Random(rand.New(rand.NewPCG(2, 2)), 300, 1)
	cam := camera.New(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{}, 24, 16)

	var rec renderer.Recording
	s, err := newScene(eng.Shaders(), &rec, pc, cam, &Options{Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, float32(2), s.rd.Settings().Scale)
	assert.EqualValues(t, 24, s.target.Width)
	assert.EqualValues(t, 16, s.target.Height)
	eng.RunRecording(&rec, nil, nil)

	img := image.NewRGBA(image.Rect(0, 0, 24, 16))
	rec = renderer.Recording{}
	s.rd.RenderFrame(&rec, s.target, nil)
	eng.RunRecording(&rec, []cpu_engine.ExternalResource{cpu_engine.ExternalImage{Proxy: s.target, Image: img}}, nil)
	var covered bool
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			covered = true
			break
		}
	}
	assert.True(t, covered)

	rec = renderer.Recording{}
	rec.Download(s.sorter.Buffers().Info)
	eng.RunRecording(&rec, nil, nil)
	info, ok := eng.Download(s.sorter.Buffers().Info)
	require.True(t, ok)
	args, ok := eng.Buffer(s.rd.Resources().IndirectArgs)
	require.True(t, ok)
	n := visibleCount(info)
	assert.Positive(t, n)
	assert.LessOrEqual(t, n, uint32(300))
	assert.Equal(t, n, safeish.Cast[*renderer.IndirectDrawArgs](&args[0]).InstanceCount)

	rec = renderer.Recording{}
	s.free(&rec)
	eng.RunRecording(&rec, nil, nil)
	for _, proxy := range []renderer.BufferProxy{
		s.camera,
		s.cloud.Gaussians,
		s.cloud.SH,
		s.rd.Resources().Splats,
		s.sorter.Result(),
	} {
		_, ok := eng.Buffer(proxy)
		assert.False(t, ok, proxy.Name)
	}
}
