package main

import (
	"crypto/sha1" //nolint:gosec // commit ids only need to look like git's
	"encoding/hex"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/treereader/pkg/logging"
	"github.com/tilsley/treereader/pkg/treereader/bitbuckettest"
)

// PushRequest replaces a branch's tree, as if a commit had been pushed.
type PushRequest struct {
	Branch  string            `json:"branch"  binding:"required"`
	Default bool              `json:"default"`
	Files   map[string]string `json:"files"   binding:"required"`
}

func main() {
	log := logging.New()
	fake := bitbuckettest.New()

	seedRepos(fake)
	log.Info("seeded repos", "repos", fake.Repos())

	r := gin.Default()
	fake.Register(r)
	registerUIRoutes(r, fake)
	registerAdminRoutes(r, fake, log)

	port := os.Getenv("PORT")
	if port == "" {
		port = "7990"
	}

	log.Info("mock-bitbucket starting", "port", port, "api", bitbuckettest.APIPath)
	if err := r.Run(":" + port); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// commitID derives a stable 40-hex commit id from a branch's content.
func commitID(branch string, files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha1.New() //nolint:gosec // see import
	fmt.Fprintf(h, "branch %s\n", branch)
	for _, p := range paths {
		fmt.Fprintf(h, "%s %d\n%s", p, len(files[p]), files[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func registerAdminRoutes(r *gin.Engine, fake *bitbuckettest.Server, log *slog.Logger) {
	// POST /admin/projects/:project/repos/:repo/push replaces one branch.
	r.POST("/admin/projects/:project/repos/:repo/push", func(c *gin.Context) {
		var req PushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		project, repo := c.Param("project"), c.Param("repo")
		commit := commitID(req.Branch, req.Files)
		fake.SetBranch(project, repo, bitbuckettest.Branch{
			Name: req.Branch, Commit: commit, Default: req.Default, Files: req.Files,
		})
		log.Info("branch pushed", "repo", project+"/"+repo, "branch", req.Branch, "commit", commit)
		c.JSON(http.StatusOK, gin.H{"branch": req.Branch, "latestCommit": commit})
	})
}

type repoView struct {
	Project  string
	Repo     string
	Branches []bitbuckettest.Branch
}

var dashboard = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>Mock Bitbucket</title></head>
<body style="font-family:sans-serif;max-width:860px;margin:0 auto;padding:32px 16px;">
  <h1 style="font-size:20px;">Repositories</h1>
  {{range .}}
  <h2 style="font-size:16px;margin-top:24px;">{{.Project}}/{{.Repo}}</h2>
  <table style="width:100%;border-collapse:collapse;">
    {{$p := .Project}}{{$r := .Repo}}
    {{range .Branches}}
    <tr>
      <td style="padding:6px 0;"><a href="/projects/{{$p}}/repos/{{$r}}/browse?at=refs/heads/{{.Name}}">{{.Name}}</a>{{if .Default}} (default){{end}}</td>
      <td style="font-family:monospace;color:#666;">{{.Commit}}</td>
      <td>{{len .Files}} files</td>
    </tr>
    {{end}}
  </table>
  {{else}}
  <p>No repositories.</p>
  {{end}}
</body>
</html>`))

func registerUIRoutes(r *gin.Engine, fake *bitbuckettest.Server) {
	r.GET("/", func(c *gin.Context) {
		snap := fake.Snapshot()
		views := make([]repoView, 0, len(snap))
		for key, branches := range snap {
			project, repo, _ := strings.Cut(key, "/")
			views = append(views, repoView{Project: project, Repo: repo, Branches: branches})
		}
		sort.Slice(views, func(i, j int) bool {
			return views[i].Project+"/"+views[i].Repo < views[j].Project+"/"+views[j].Repo
		})
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		_ = dashboard.Execute(c.Writer, views) //nolint:errcheck // client sees a truncated page
	})
}
