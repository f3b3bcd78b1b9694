// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command splat-render renders a procedural Gaussian point cloud on the CPU
// and writes the result as a PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
	"honnef.co/go/color"
	"honnef.co/go/splat/camera"
	"honnef.co/go/splat/engine/cpu_engine"
	"honnef.co/go/splat/pointcloud"
	"honnef.co/go/splat/radix"
	"honnef.co/go/splat/renderer"
)

type config struct {
	n      int
	seed   uint64
	width  uint
	height uint
	scale  float64
	ssaa   uint
	bg     string
	flip   bool
	out    string
	radius float64
	dist   float64
}

func main() {
	var cfg config
	var verbose bool
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] -out <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&cfg.n, "n", 10000, "Number of Gaussians")
	flag.Uint64Var(&cfg.seed, "seed", 1, "Random `seed` of the point cloud")
	flag.UintVar(&cfg.width, "width", 640, "Output width in pixels")
	flag.UintVar(&cfg.height, "height", 480, "Output height in pixels")
	flag.Float64Var(&cfg.scale, "scale", 1, "Gaussian scale multiplier")
	flag.UintVar(&cfg.ssaa, "ssaa", 1, "Supersampling `factor`")
	flag.StringVar(&cfg.bg, "bg", "", "Background `color` as #rrggbb or #rrggbbaa (default transparent)")
	flag.BoolVar(&cfg.flip, "flip", false, "View the cloud from the opposite side")
	flag.StringVar(&cfg.out, "out", "splat.png", "Output `file`")
	flag.Float64Var(&cfg.radius, "radius", 1, "Radius of the point cloud")
	flag.Float64Var(&cfg.dist, "dist", 3.5, "Distance of the camera from the center")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	if verbose {
		renderer.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	img, timings, err := render(&cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if verbose {
		timings.Walk(func(depth int, t *cpu_engine.Timings) {
			fmt.Fprintf(os.Stderr, "%s%s: %s\n", strings.Repeat("  ", depth), t.Label, t.Duration())
		})
	}
	if err := writePNG(cfg.out, img); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func render(cfg *config) (*image.RGBA, *cpu_engine.Timings, error) {
	if cfg.n <= 0 {
		return nil, nil, errors.New("-n must be positive")
	}
	if cfg.width == 0 || cfg.height == 0 || cfg.ssaa == 0 {
		return nil, nil, errors.New("-width, -height and -ssaa must be positive")
	}
	bg, err := parseColor(cfg.bg)
	if err != nil {
		return nil, nil, err
	}

	timings := cpu_engine.NewTimings("splat-render")
	defer timings.End()

	g := timings.Start("generate")
	pc := pointcloud.Random(rand.New(rand.NewPCG(cfg.seed, cfg.seed)), cfg.n, float32(cfg.radius))
	g.End()

	w := uint32(cfg.width * cfg.ssaa)
	h := uint32(cfg.height * cfg.ssaa)
	cam := camera.New(mgl32.Vec3{0, 0, float32(cfg.dist)}, mgl32.Vec3{}, w, h)
	if cfg.flip {
		cam = cam.Reversed()
	}

	eng := cpu_engine.New()
	var rec renderer.Recording
	cloud, err := pc.Upload(&rec)
	if err != nil {
		return nil, nil, err
	}
	u := cam.Uniform()
	camBuf := rec.UploadUniform("cameraBuf", u.Bytes())
	sorter := radix.New(eng.Shaders(), &radix.Options{Capacity: cloud.NumPoints})
	rd, err := renderer.New(eng.Shaders(), cloud, camBuf, sorter, &renderer.Options{
		Scale:      float32(cfg.scale),
		Background: bg,
	})
	if err != nil {
		return nil, nil, err
	}
	rd.Setup(&rec)
	eng.RunRecording(&rec, nil, timings)

	target := renderer.NewImageProxy(w, h, "target")
	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	rec = renderer.Recording{}
	rd.RenderFrame(&rec, target, timings)
	eng.RunRecording(&rec, []cpu_engine.ExternalResource{cpu_engine.ExternalImage{Proxy: target, Image: img}}, timings)

	if cfg.ssaa > 1 {
		g := timings.Start("downscale")
		small := image.NewRGBA(image.Rect(0, 0, int(cfg.width), int(cfg.height)))
		draw.CatmullRom.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = small
		g.End()
	}
	return img, timings, nil
}

// parseColor parses an sRGB color in hex notation. The empty string is no
// color.
func parseColor(s string) (*color.Color, error) {
	if s == "" {
		return nil, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	ch := func(shift uint) float64 { return float64((v>>shift)&0xFF) / 255 }
	c := color.Make(color.SRGB, ch(24), ch(16), ch(8), ch(0))
	return &c, nil
}

func writePNG(name string, img image.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
