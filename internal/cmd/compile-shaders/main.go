// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command compile-shaders writes the preprocessed WGSL of every kernel, the
// way the engines see it, to a directory. It is useful for feeding the
// kernels to external validators such as naga.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"honnef.co/go/splat/engine/shaders"
	"honnef.co/go/splat/engine/shaders/wgslpp"
)

type defines map[string]struct{}

func (d defines) String() string {
	var names []string
	for name := range d {
		names = append(names, name)
	}
	return strings.Join(names, ",")
}

func (d defines) Set(s string) error {
	d[s] = struct{}{}
	return nil
}

func main() {
	var (
		in      string
		out     string
		verbose bool
	)
	defs := defines{}
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-v] [-in <dir>] [-D name]... -out <dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&in, "in", "", "Read sources from `directory` instead of the embedded ones")
	flag.StringVar(&out, "out", "./out", "Path to output `directory`")
	flag.Var(defs, "D", "Define `name` for #ifdef")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	dief := func(f string, v ...any) {
		fmt.Fprintf(os.Stderr, f, v...)
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}

	var src fs.FS
	var dir string
	if in == "" {
		src = shaders.Sources
		dir = "wgsl"
	} else {
		src = os.DirFS(in)
		dir = "."
	}

	p := wgslpp.Preprocessor{
		FS:        src,
		ImportDir: path.Join(dir, "shared"),
		Defines:   defs,
	}
	if verbose {
		p.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	matches, err := fs.Glob(src, path.Join(dir, "*.wgsl"))
	if err != nil {
		dief("Couldn't list sources: %s", err)
	}
	if len(matches) == 0 {
		dief("No shaders found")
	}
	if err := os.MkdirAll(out, 0777); err != nil {
		dief("Couldn't create output directory: %s", err)
	}

	for i, m := range matches {
		name := path.Base(m)
		if verbose {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", i+1, len(matches), name)
		}
		code, err := p.PreprocessFile(m)
		if err != nil {
			dief("Couldn't preprocess %s: %s", name, err)
		}
		if err := os.WriteFile(filepath.Join(out, name), code, 0666); err != nil {
			dief("Couldn't write %s: %s", name, err)
		}
	}
}
