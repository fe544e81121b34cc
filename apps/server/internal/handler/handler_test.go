package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilsley/treereader/apps/server/internal/handler"
	"github.com/tilsley/treereader/apps/server/internal/platform/validation"
	"github.com/tilsley/treereader/apps/server/internal/watch"
	"github.com/tilsley/treereader/pkg/treereader"
	"github.com/tilsley/treereader/pkg/treereader/bitbucket"
	"github.com/tilsley/treereader/pkg/treereader/bitbuckettest"
	"github.com/tilsley/treereader/schemas"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const commit = "9f8e7d6c5b4a39281706f5e4d3c2b1a098765432"

type env struct {
	router *gin.Engine
	fake   *bitbuckettest.Server
	store  *watch.MemoryStore
	base   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fake := bitbuckettest.New()
	fake.SetBranch("DOC", "guides", bitbuckettest.Branch{
		Name: "main", Commit: commit, Default: true,
		Files: map[string]string{
			"README.md":             "top",
			"guides/index.md":       "# guides",
			"guides/setup/index.md": "# setup",
			"guides/logo.bin":       "\xff\xfe\x00\x01",
		},
	})
	base := fake.Start(t)

	client, err := bitbucket.NewClient(base+bitbuckettest.APIPath, nil)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := treereader.NewReader(client, treereader.WithTempDir(t.TempDir()), treereader.WithLogger(log))
	store := watch.NewMemoryStore()
	poller := watch.NewPoller(reader, store, log)

	validator, err := validation.New(schemas.OpenAPISpec)
	require.NoError(t, err)

	r := gin.New()
	r.Use(validator)
	handler.RegisterRoutes(r, reader, poller, store, log)

	return &env{router: r, fake: fake, store: store, base: base}
}

func (e *env) browse(rest string) string {
	return e.base + "/projects/DOC/repos/guides/browse" + rest
}

func (e *env) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type fileBody struct {
	Path          string `json:"path"`
	URL           string `json:"url"`
	Size          int    `json:"size"`
	Content       string `json:"content"`
	ContentBase64 []byte `json:"contentBase64"`
}

type treeBody struct {
	ETag  string     `json:"etag"`
	Files []fileBody `json:"files"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func q(raw string) string { return url.QueryEscape(raw) }

// ─── /health ─────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

// ─── /tree ───────────────────────────────────────────────────────────────────

func TestTree_ReturnsFilesAndETag(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/tree?url="+q(e.browse("/guides")), "", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"9f8e7d6c5b4a"`, w.Header().Get("ETag"))
	body := decode[treeBody](t, w)
	assert.Equal(t, "9f8e7d6c5b4a", body.ETag)

	byPath := map[string]fileBody{}
	for _, f := range body.Files {
		byPath[f.Path] = f
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, "# guides", byPath["index.md"].Content)
	assert.Equal(t, e.browse("/guides/setup/index.md"), byPath["setup/index.md"].URL)
	assert.Equal(t, []byte("\xff\xfe\x00\x01"), byPath["logo.bin"].ContentBase64)
	assert.Empty(t, byPath["logo.bin"].Content)
	assert.Equal(t, 4, byPath["logo.bin"].Size)
}

func TestTree_ETagQueryReturns304(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/tree?etag=9f8e7d6c5b4a&url="+q(e.browse("/guides")), "", nil)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Equal(t, `"9f8e7d6c5b4a"`, w.Header().Get("ETag"))
	assert.Zero(t, e.fake.ArchiveCalls())
}

func TestTree_IfNoneMatchReturns304(t *testing.T) {
	e := newEnv(t)
	h := http.Header{"If-None-Match": []string{`W/"9f8e7d6c5b4a", "other"`}}

	w := e.do(http.MethodGet, "/tree?url="+q(e.browse("/guides")), "", h)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Zero(t, e.fake.ArchiveCalls())
}

func TestTree_StaleETagReturnsTree(t *testing.T) {
	e := newEnv(t)
	h := http.Header{"If-None-Match": []string{`"000000000000"`}}

	w := e.do(http.MethodGet, "/tree?url="+q(e.browse("/guides")), "", h)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTree_ErrorMapping(t *testing.T) {
	e := newEnv(t)
	missingRepo := e.base + "/projects/DOC/repos/absent/browse"

	cases := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing url", "/tree", http.StatusBadRequest, "invalid_request"},
		{"not a browse url", "/tree?url=" + q("https://git.example.com/somewhere"), http.StatusBadRequest, "invalid_url"},
		{"unknown ref", "/tree?url=" + q(e.browse("/guides?at=refs/heads/nope")), http.StatusNotFound, "ref_not_found"},
		{"empty subtree", "/tree?url=" + q(e.browse("/nothing-here")), http.StatusNotFound, "empty_tree"},
		{"unknown repo", "/tree?url=" + q(missingRepo), http.StatusServiceUnavailable, "upstream_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(http.MethodGet, tc.target, "", nil)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode[errorBody](t, w).Error)
		})
	}
}

// ─── /search ─────────────────────────────────────────────────────────────────

func TestSearch_Glob(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/search?url="+q(e.browse("/guides/**/index.*")), "", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[treeBody](t, w)
	paths := make([]string, 0, len(body.Files))
	for _, f := range body.Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"index.md", "setup/index.md"}, paths)
}

func TestSearch_NoMatchesIsEmptyList(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/search?url="+q(e.browse("/guides/*.pdf")), "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"etag":"9f8e7d6c5b4a","files":[]}`, w.Body.String())
}

func TestSearch_NotModified(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/search?etag=9f8e7d6c5b4a&url="+q(e.browse("/guides/*.md")), "", nil)

	assert.Equal(t, http.StatusNotModified, w.Code)
}

// ─── /watches ────────────────────────────────────────────────────────────────

func TestWatches_Lifecycle(t *testing.T) {
	e := newEnv(t)
	target := e.browse("/guides")

	w := e.do(http.MethodPost, "/watches", `{"url":"`+target+`"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, target, decode[watch.Watch](t, w).URL)

	w = e.do(http.MethodPost, "/watches/poll", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	polled := decode[struct {
		Results []watch.Result `json:"results"`
	}](t, w)
	require.Len(t, polled.Results, 1)
	assert.True(t, polled.Results[0].Changed)
	assert.Equal(t, "9f8e7d6c5b4a", polled.Results[0].ETag)

	w = e.do(http.MethodGet, "/watches", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[struct {
		Watches []watch.Watch `json:"watches"`
	}](t, w)
	require.Len(t, listed.Watches, 1)
	assert.Equal(t, 3, listed.Watches[0].Files)

	w = e.do(http.MethodGet, "/watches/snapshots?limit=5&url="+q(target), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snaps := decode[struct {
		Snapshots []watch.Snapshot `json:"snapshots"`
	}](t, w)
	require.Len(t, snaps.Snapshots, 1)

	w = e.do(http.MethodDelete, "/watches?url="+q(target), "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	got, err := e.store.Get(context.Background(), target)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWatches_AddInvalidURL(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/watches", `{"url":"https://git.example.com/nope"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_url", decode[errorBody](t, w).Error)
}

func TestWatches_AddMissingBody(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/watches", `{}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatches_RemoveUnknown(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodDelete, "/watches?url="+q(e.browse("/guides")), "", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "watch_not_found", decode[errorBody](t, w).Error)
}

func TestWatches_SnapshotsUnknown(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/watches/snapshots?url="+q(e.browse("/guides")), "", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatches_PollEmpty(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/watches/poll", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}
