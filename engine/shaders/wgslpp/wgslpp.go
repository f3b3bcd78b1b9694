// Copyright 2023 the Vello Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package wgslpp implements the small preprocessor our WGSL sources are
// written for.
//
// Supported directives are #import name, which splices in name.wgsl from the
// import directory, #ifdef/#ifndef/#else/#endif, and #enable, which is kept
// in the output as an enable directive. Module-scope let declarations are
// rewritten to const.
package wgslpp

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
)

type Preprocessor struct {
	// File system to load sources and imports from.
	FS fs.FS
	// Directory in FS that #import resolves against.
	ImportDir string
	Defines   map[string]struct{}
	// Optional logger for tracing directives.
	Logger *slog.Logger

	imports map[string][]byte
}

func (p *Preprocessor) debugf(f string, v ...any) {
	if p.Logger == nil {
		return
	}
	p.Logger.Debug(fmt.Sprintf(f, v...))
}

func (p *Preprocessor) getImport(name string) ([]byte, error) {
	p.debugf("substituting import %q", name)
	if src, ok := p.imports[name]; ok {
		return src, nil
	}
	p.debugf("loading import %q", name)
	src, err := fs.ReadFile(p.FS, path.Join(p.ImportDir, name+".wgsl"))
	if err != nil {
		return nil, err
	}
	if p.imports == nil {
		p.imports = make(map[string][]byte)
	}
	p.imports[name] = src
	return src, nil
}

// PreprocessFile loads name from the file system and preprocesses it.
func (p *Preprocessor) PreprocessFile(name string) ([]byte, error) {
	src, err := fs.ReadFile(p.FS, name)
	if err != nil {
		return nil, err
	}
	out, err := p.Preprocess(src, name)
	if err != nil {
		return nil, err
	}
	return postprocess(out), nil
}

type stackItem struct {
	active     bool
	elsePassed bool
}

func allActive(stack []stackItem) bool {
	for _, item := range stack {
		if !item.active {
			return false
		}
	}
	return true
}

// Preprocess preprocesses source. Name is only used in error messages.
func (p *Preprocessor) Preprocess(source []byte, name string) ([]byte, error) {
	var out []byte
	nl := []byte("\n")
	space := []byte(" ")
	dirMarker := []byte("#")
	commentMarker := []byte("//")
	let := []byte("let ")
	var stack []stackItem
	lineNo := 0
	errorf := func(f string, v ...any) error {
		return fmt.Errorf("%s:%d: %s", name, lineNo, fmt.Sprintf(f, v...))
	}
allLines:
	for len(source) > 0 {
		lineNo++
		var line []byte
		line, source, _ = bytes.Cut(source, nl)

		for len(line) > 0 {
			hashIdx := bytes.IndexByte(line, '#')
			commentIdx := bytes.Index(line, commentMarker)

			if hashIdx == -1 || (commentIdx != -1 && commentIdx < hashIdx) {
				// No directives that aren't commented
				break
			}

			end := bytes.IndexByte(line[hashIdx+1:], ' ')
			if end == -1 {
				end = len(line)
			} else {
				end += hashIdx + 1
			}

			directive := string(line[hashIdx+1 : end])
			atStart := bytes.HasPrefix(bytes.TrimSpace(line), dirMarker)
			arg := bytes.TrimSpace(line[end:])

			p.debugf("processing directive %q", directive)

			switch directive {
			case "ifdef", "ifndef", "else", "endif", "enable":
				if !atStart {
					return nil, errorf("%q directives must be the first non-whitespace item on their line", directive)
				}
			}

			switch directive {
			case "ifdef", "ifndef":
				_, exists := p.Defines[string(arg)]
				active := (directive == "ifdef") == exists
				stack = append(stack, stackItem{active: active})
				p.debugf("%s %s: branch active = %t", directive, arg, active)
				continue allLines

			case "else":
				if len(stack) == 0 {
					return nil, errorf("#else without #ifdef or #ifndef")
				}
				if len(arg) != 0 {
					return nil, errorf("#else directive doesn't accept arguments")
				}
				item := &stack[len(stack)-1]
				if item.elsePassed {
					return nil, errorf("second else for same ifdef/ifndef")
				}
				item.elsePassed = true
				item.active = !item.active
				continue allLines

			case "endif":
				if len(stack) == 0 {
					return nil, errorf("mismatched endif")
				}
				stack = stack[:len(stack)-1]
				if len(arg) != 0 && !bytes.HasPrefix(arg, commentMarker) {
					return nil, errorf("#endif directive doesn't accept arguments")
				}
				continue allLines

			case "import":
				out = append(out, line[:hashIdx]...)
				if len(arg) == 0 {
					return nil, errorf("#import needs an argument")
				}
				var importName []byte
				importName, line, _ = bytes.Cut(arg, space)
				importSrc, err := p.getImport(string(importName))
				if err != nil {
					return nil, errorf("couldn't import %q: %s", importName, err)
				}
				if allActive(stack) {
					imported, err := p.Preprocess(importSrc, string(importName)+".wgsl")
					if err != nil {
						return nil, err
					}
					out = append(out, imported...)
				}

			case "enable":
				if allActive(stack) {
					out = append(out, "//__"...)
					out = append(out, line...)
					out = append(out, '\n')
				}
				continue allLines

			default:
				return nil, errorf("unknown preprocessor directive %q", directive)
			}
		}

		if allActive(stack) {
			if bytes.HasPrefix(line, let) {
				out = append(out, "const"...)
				out = append(out, line[3:]...)
			} else {
				out = append(out, line...)
			}
			out = append(out, '\n')
		}
	}

	if len(stack) != 0 {
		return nil, errorf("missing #endif")
	}
	return out, nil
}

func postprocess(src []byte) []byte {
	return bytes.ReplaceAll(src, []byte("//__#enable"), []byte("enable"))
}
