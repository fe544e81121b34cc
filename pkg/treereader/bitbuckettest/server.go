// Package bitbuckettest provides an in-memory Bitbucket Server that speaks the
// branch-list and archive endpoints used by the bitbucket package. It backs
// the package tests and the mock-bitbucket app.
package bitbuckettest

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// APIPath is the REST root the server mounts its routes under.
const APIPath = "/rest/api/1.0"

// Branch is a branch with the full file tree at its head commit.
type Branch struct {
	Name    string
	Commit  string
	Default bool
	// Files maps repo-relative paths to content.
	Files map[string]string
}

// Server holds repositories keyed by "PROJECT/repo".
type Server struct {
	mu       sync.RWMutex
	repos    map[string][]Branch
	pageSize int

	branchCalls  atomic.Int64
	archiveCalls atomic.Int64
}

// New returns an empty Server with a branch page size of 25.
func New() *Server {
	return &Server{repos: make(map[string][]Branch), pageSize: 25}
}

// SetBranch adds b to project/repo, replacing any branch with the same name.
// Marking b as default clears the flag on the other branches.
func (s *Server) SetBranch(project, repo string, b Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := project + "/" + repo
	branches := s.repos[key]
	replaced := false
	for i := range branches {
		if b.Default {
			branches[i].Default = false
		}
		if branches[i].Name == b.Name {
			branches[i] = b
			replaced = true
		}
	}
	if !replaced {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	s.repos[key] = branches
}

// SetPageSize sets the default page size of the branch listing.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// BranchCalls returns the number of branch-list requests served.
func (s *Server) BranchCalls() int64 { return s.branchCalls.Load() }

// ArchiveCalls returns the number of archive requests served.
func (s *Server) ArchiveCalls() int64 { return s.archiveCalls.Load() }

// Repos returns the number of repositories held.
func (s *Server) Repos() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.repos)
}

// Snapshot returns a copy of every repository's branches keyed by "PROJECT/repo".
func (s *Server) Snapshot() map[string][]Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Branch, len(s.repos))
	for k, b := range s.repos {
		out[k] = append([]Branch(nil), b...)
	}
	return out
}

// Register mounts the API routes on r.
func (s *Server) Register(r gin.IRoutes) {
	r.GET(APIPath+"/projects/:project/repos/:repo/branches", s.listBranches)
	r.GET(APIPath+"/projects/:project/repos/:repo/archive", s.archive)
}

// Handler returns a gin engine serving only the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

// Start serves the Server on a loopback port for the duration of the test
// and returns its base URL.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func (s *Server) branches(project, repo string) ([]Branch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.repos[project+"/"+repo]
	return append([]Branch(nil), b...), ok
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"errors": []gin.H{{"message": msg}}})
}

func (s *Server) listBranches(c *gin.Context) {
	s.branchCalls.Add(1)
	project, repo := c.Param("project"), c.Param("repo")

	branches, ok := s.branches(project, repo)
	if !ok {
		notFound(c, "Repository "+project+"/"+repo+" does not exist.")
		return
	}

	s.mu.RLock()
	limit := s.pageSize
	s.mu.RUnlock()
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v < limit {
		limit = v
	}
	start, _ := strconv.Atoi(c.Query("start")) //nolint:errcheck // missing start means 0
	start = max(0, min(start, len(branches)))
	end := min(start+limit, len(branches))

	values := make([]gin.H, 0, end-start)
	for _, b := range branches[start:end] {
		values = append(values, gin.H{
			"id":              "refs/heads/" + b.Name,
			"displayId":       b.Name,
			"type":            "BRANCH",
			"latestCommit":    b.Commit,
			"latestChangeset": b.Commit,
			"isDefault":       b.Default,
		})
	}

	body := gin.H{
		"size":       len(values),
		"limit":      limit,
		"start":      start,
		"isLastPage": end >= len(branches),
		"values":     values,
	}
	if end < len(branches) {
		body["nextPageStart"] = end
	}
	c.JSON(http.StatusOK, body)
}

// archive writes the branch's tree as a gzip-compressed tar wrapped in a
// single top-level directory named after the prefix parameter.
func (s *Server) archive(c *gin.Context) {
	s.archiveCalls.Add(1)
	project, repo := c.Param("project"), c.Param("repo")

	branches, ok := s.branches(project, repo)
	if !ok {
		notFound(c, "Repository "+project+"/"+repo+" does not exist.")
		return
	}
	b, ok := pick(branches, c.Query("at"))
	if !ok {
		notFound(c, "Object '"+c.Query("at")+"' does not exist in repository.")
		return
	}

	prefix := strings.Trim(c.Query("prefix"), "/")
	if prefix == "" {
		prefix = repo
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", "attachment; filename="+prefix+".tar.gz")
	c.Status(http.StatusOK)

	gw := gzip.NewWriter(c.Writer)
	tw := tar.NewWriter(gw)
	writeTree(tw, prefix, b.Files)
	_ = tw.Close() //nolint:errcheck // client sees a truncated stream
	_ = gw.Close() //nolint:errcheck // client sees a truncated stream
}

// Archive returns files as a gzip-compressed tar wrapped in a top-level
// directory named prefix, in the layout the archive endpoint serves.
func Archive(prefix string, files map[string]string) []byte {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	writeTree(tw, prefix, files)
	_ = tw.Close() //nolint:errcheck // writes to a bytes.Buffer cannot fail
	_ = gw.Close() //nolint:errcheck // writes to a bytes.Buffer cannot fail
	return buf.Bytes()
}

// pick resolves at as a branch name or a branch's head commit id.
func pick(branches []Branch, at string) (Branch, bool) {
	at = strings.TrimPrefix(at, "refs/heads/")
	for _, b := range branches {
		if (at == "" && b.Default) || (at != "" && (b.Name == at || b.Commit == at)) {
			return b, true
		}
	}
	return Branch{}, false
}

func writeTree(tw *tar.Writer, prefix string, files map[string]string) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dirs := map[string]bool{}
	_ = tw.WriteHeader(&tar.Header{Name: prefix + "/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime}) //nolint:errcheck // see archive
	for _, p := range paths {
		var missing []string
		for d := path.Dir(p); d != "." && !dirs[d]; d = path.Dir(d) {
			dirs[d] = true
			missing = append(missing, d)
		}
		for i := len(missing) - 1; i >= 0; i-- {
			_ = tw.WriteHeader(&tar.Header{Name: prefix + "/" + missing[i] + "/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime}) //nolint:errcheck // see archive
		}
		content := files[p]
		_ = tw.WriteHeader(&tar.Header{ //nolint:errcheck // see archive
			Name:     prefix + "/" + p,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
			ModTime:  mtime,
		})
		_, _ = tw.Write([]byte(content)) //nolint:errcheck // see archive
	}
}
