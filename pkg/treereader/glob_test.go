package treereader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilsley/treereader/pkg/treereader"
)

func TestGlob_Match(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/index.*", "index.md", true},
		{"**/index.*", "docs/index.md", true},
		{"**/index.*", "docs/a/b/index.html", true},
		{"**/index.*", "docs/indexes.md", false},
		{"docs/index.*", "docs/index.md", true},
		{"docs/index.*", "docs/sub/index.md", false},
		{"docs/index.*", "index.md", false},
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
		{"*.MD", "README.md", false},
		{"docs/**", "docs/a.md", true},
		{"docs/**", "docs/a/b/c.md", true},
		{"docs/**/*.md", "docs/a.md", true},
		{"docs/**/*.md", "docs/x/y/a.md", true},
		{"docs/**/*.md", "other/a.md", false},
		{"a/**/**/b", "a/b", true},
		{"a/**/**/b", "a/x/y/b", true},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file10.txt", false},
		{"*", ".hidden", false},
		{".*", ".hidden", true},
		{"**/*.yaml", ".github/ci.yaml", false},
		{".github/*.yaml", ".github/ci.yaml", true},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"**", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.path, func(t *testing.T) {
			g, err := treereader.CompileGlob(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Match(tt.path))
		})
	}
}

func TestCompileGlob_Invalid(t *testing.T) {
	_, err := treereader.CompileGlob("")
	assert.Error(t, err)

	_, err = treereader.CompileGlob("docs//*.md")
	assert.Error(t, err)
}

func TestGlob_Filter_PreservesOrder(t *testing.T) {
	g, err := treereader.CompileGlob("**/*.md")
	require.NoError(t, err)

	in := []treereader.Entry{
		{Path: "a.md"}, {Path: "b.txt"}, {Path: "docs/c.md"}, {Path: "docs/d.go"}, {Path: "z/e.md"},
	}
	got := g.Filter(in)

	paths := make([]string, 0, len(got))
	for _, e := range got {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"a.md", "docs/c.md", "z/e.md"}, paths)
}

func TestSplitGlob(t *testing.T) {
	tests := []struct {
		subpath, base, pattern string
	}{
		{"**/index.*", "", "**/index.*"},
		{"docs/index.*", "docs", "index.*"},
		{"docs/guides/**/*.md", "docs/guides", "**/*.md"},
		{"docs/a?/x.md", "docs", "a?/x.md"},
		{"docs/README.md", "docs", "README.md"},
		{"README.md", "", "README.md"},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.subpath, func(t *testing.T) {
			base, pattern := treereader.SplitGlob(tt.subpath)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.pattern, pattern)
		})
	}
}
