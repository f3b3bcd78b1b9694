// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgslpp

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"shared/config.wgsl": {Data: []byte("let WG_SIZE: u32 = 256u;\n")},
		"shared/util.wgsl":   {Data: []byte("fn one() -> u32 {\n    let x = 1u;\n    return x;\n}\n")},
		"kernel.wgsl": {Data: []byte(
			"#import config\n" +
				"#import util\n" +
				"#enable f16\n" +
				"@compute @workgroup_size(WG_SIZE)\n" +
				"fn main() {}\n",
		)},
	}
}

func TestPreprocessFile(t *testing.T) {
	p := Preprocessor{FS: testFS(), ImportDir: "shared"}
	out, err := p.PreprocessFile("kernel.wgsl")
	require.NoError(t, err)
	want := "const WG_SIZE: u32 = 256u;\n" +
		"\n" +
		"fn one() -> u32 {\n    let x = 1u;\n    return x;\n}\n" +
		"\n" +
		"enable f16\n" +
		"@compute @workgroup_size(WG_SIZE)\n" +
		"fn main() {}\n"
	assert.Equal(t, want, string(out))
}

func TestConditionals(t *testing.T) {
	src := []byte("#ifdef msaa\n" +
		"a\n" +
		"#else\n" +
		"b\n" +
		"#endif\n" +
		"#ifndef msaa\n" +
		"c\n" +
		"#endif // trailing comment\n" +
		"d\n")

	tests := []struct {
		defines map[string]struct{}
		want    string
	}{
		{nil, "b\nc\nd\n"},
		{map[string]struct{}{"msaa": {}}, "a\nd\n"},
	}
	for _, tt := range tests {
		p := Preprocessor{FS: testFS(), ImportDir: "shared", Defines: tt.defines}
		out, err := p.Preprocess(src, "test.wgsl")
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(out))
	}
}

func TestImportInInactiveBranch(t *testing.T) {
	src := []byte("#ifdef never\n#import config\n#endif\nx\n")
	p := Preprocessor{FS: testFS(), ImportDir: "shared"}
	out, err := p.Preprocess(src, "test.wgsl")
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(out))
}

func TestCommentedDirective(t *testing.T) {
	src := []byte("// #import nothing\n")
	p := Preprocessor{FS: testFS(), ImportDir: "shared"}
	out, err := p.Preprocess(src, "test.wgsl")
	require.NoError(t, err)
	assert.Equal(t, "// #import nothing\n", string(out))
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  string
	}{
		{"unknown", "#define x\n", `test.wgsl:1: unknown preprocessor directive "define"`},
		{"mismatched endif", "#endif\n", "test.wgsl:1: mismatched endif"},
		{"missing endif", "#ifdef x\ny\n", "test.wgsl:2: missing #endif"},
		{"dangling else", "#else\n", "test.wgsl:1: #else without #ifdef or #ifndef"},
		{"second else", "#ifdef x\n#else\n#else\n#endif\n", "test.wgsl:3: second else for same ifdef/ifndef"},
		{"else argument", "#ifdef x\n#else y\n#endif\n", "test.wgsl:2: #else directive doesn't accept arguments"},
		{"import without name", "#import\n", "test.wgsl:1: #import needs an argument"},
		{"not at start", "x #ifdef y\n", `test.wgsl:1: "ifdef" directives must be the first non-whitespace item on their line`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Preprocessor{FS: testFS(), ImportDir: "shared"}
			_, err := p.Preprocess([]byte(tt.src), "test.wgsl")
			assert.EqualError(t, err, tt.err)
		})
	}
}

func TestMissingImport(t *testing.T) {
	p := Preprocessor{FS: testFS(), ImportDir: "shared"}
	_, err := p.Preprocess([]byte("#import missing\n"), "test.wgsl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `couldn't import "missing"`)
}
