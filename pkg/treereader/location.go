package treereader

import (
	"net/url"
	"path"
	"strings"
)

// Location identifies a path inside a repository at an optional ref.
// It is derived once per call from a browse URL and never mutated.
type Location struct {
	Scheme string
	Host   string
	// ContextPath is any path prefix the host is mounted under, e.g. "/bitbucket".
	ContextPath string
	Project     string
	Repo        string
	// Subpath is relative to the repository root, without leading or trailing slashes.
	Subpath string
	// Ref is the value of the "at" query parameter. Empty means the default branch.
	Ref string
}

// ParseBrowseURL parses a URL of the form
//
//	scheme://host[/ctx]/projects/{project}/repos/{repo}/browse[/{subpath}][?at={ref}]
//
// into a Location.
func ParseBrowseURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, InvalidURLError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Location{}, InvalidURLError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return Location{}, InvalidURLError{URL: raw, Reason: "missing host"}
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	idx := -1
	for i := 0; i+4 < len(segs); i++ {
		if segs[i] == "projects" && segs[i+2] == "repos" && segs[i+4] == "browse" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Location{}, InvalidURLError{URL: raw, Reason: "expected /projects/{project}/repos/{repo}/browse"}
	}

	loc := Location{
		Scheme:  u.Scheme,
		Host:    u.Host,
		Project: segs[idx+1],
		Repo:    segs[idx+3],
		Ref:     u.Query().Get("at"),
	}
	if loc.Project == "" || loc.Repo == "" {
		return Location{}, InvalidURLError{URL: raw, Reason: "empty project or repo"}
	}
	if idx > 0 {
		loc.ContextPath = "/" + strings.Join(segs[:idx], "/")
	}

	sub := make([]string, 0, len(segs)-idx-5)
	for _, s := range segs[idx+5:] {
		switch s {
		case "", ".":
			continue
		case "..":
			return Location{}, InvalidURLError{URL: raw, Reason: "subpath must not contain .."}
		}
		sub = append(sub, s)
	}
	loc.Subpath = strings.Join(sub, "/")

	return loc, nil
}

// BrowseURL returns the browse URL for rel, a path relative to the repository
// root. The "at" parameter is carried over from the Location.
func (l Location) BrowseURL(rel string) string {
	u := url.URL{
		Scheme: l.Scheme,
		Host:   l.Host,
		Path:   l.ContextPath + "/projects/" + l.Project + "/repos/" + l.Repo + "/browse",
	}
	if rel = strings.Trim(rel, "/"); rel != "" {
		u.Path += "/" + rel
	}
	if l.Ref != "" {
		u.RawQuery = url.Values{"at": {l.Ref}}.Encode()
	}
	return u.String()
}

// String returns the canonical browse URL of the Location.
func (l Location) String() string {
	return l.BrowseURL(l.Subpath)
}

// joinRel joins a repo-relative directory and a path relative to it.
func joinRel(dir, rel string) string {
	return path.Join(dir, rel)
}
