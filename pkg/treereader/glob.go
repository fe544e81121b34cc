package treereader

import (
	"fmt"
	"path"
	"strings"
)

// Glob matches slash-separated paths segment by segment.
//
// Within a segment "*" matches any run of characters and "?" matches exactly
// one. A segment consisting of "**" matches zero or more whole segments.
// Matching is case-sensitive. Wildcards never match a name starting with "."
// unless the pattern segment itself starts with ".".
type Glob struct {
	pattern string
	segs    []string
}

// CompileGlob splits pattern into segments and validates it.
func CompileGlob(pattern string) (*Glob, error) {
	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		return nil, fmt.Errorf("empty glob pattern")
	}

	raw := strings.Split(pattern, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			return nil, fmt.Errorf("glob %q has an empty segment", pattern)
		}
		if s == "**" && len(segs) > 0 && segs[len(segs)-1] == "**" {
			continue
		}
		segs = append(segs, s)
	}
	return &Glob{pattern: pattern, segs: segs}, nil
}

// String returns the pattern the Glob was compiled from.
func (g *Glob) String() string { return g.pattern }

// Match reports whether the relative path p matches the pattern.
func (g *Glob) Match(p string) bool {
	p = strings.Trim(p, "/")
	if p == "" {
		return false
	}
	return matchSegments(g.segs, strings.Split(p, "/"))
}

// Filter returns the entries whose path matches, preserving their order.
func (g *Glob) Filter(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if g.Match(e.Path) {
			out = append(out, e)
		}
	}
	return out
}

// SplitGlob separates a subpath into the directory to extract and the
// pattern to match below it. The base is the leading run of segments free of
// wildcards. A subpath without wildcards splits into its parent directory and
// its final segment.
func SplitGlob(subpath string) (base, pattern string) {
	subpath = strings.Trim(subpath, "/")
	if subpath == "" {
		return "", ""
	}
	segs := strings.Split(subpath, "/")
	for i, s := range segs {
		if hasWildcard(s) {
			return strings.Join(segs[:i], "/"), strings.Join(segs[i:], "/")
		}
	}
	base = path.Dir(subpath)
	if base == "." {
		base = ""
	}
	return base, path.Base(subpath)
}

func hasWildcard(seg string) bool {
	return strings.ContainsAny(seg, "*?")
}

// matchSegments evaluates pat against names bottom-up so repeated "**"
// segments stay linear in len(pat)*len(names).
func matchSegments(pat, names []string) bool {
	n := len(names)
	next := make([]bool, n+1)
	next[n] = true

	for i := len(pat) - 1; i >= 0; i-- {
		cur := make([]bool, n+1)
		for j := n; j >= 0; j-- {
			if pat[i] == "**" {
				cur[j] = next[j] || (j < n && !hidden(names[j]) && cur[j+1])
				continue
			}
			cur[j] = j < n && matchSegment(pat[i], names[j]) && next[j+1]
		}
		next = cur
	}
	return next[0]
}

func matchSegment(pat, name string) bool {
	if hidden(name) && !strings.HasPrefix(pat, ".") {
		return false
	}
	return wildcard([]rune(pat), []rune(name))
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// wildcard matches a single segment with "*" and "?" using greedy
// backtracking to the most recent star.
func wildcard(p, n []rune) bool {
	pi, ni := 0, 0
	star, mark := -1, 0
	for ni < len(n) {
		switch {
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, ni
			pi++
		case pi < len(p) && (p[pi] == '?' || p[pi] == n[ni]):
			pi++
			ni++
		case star >= 0:
			pi = star + 1
			mark++
			ni = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
