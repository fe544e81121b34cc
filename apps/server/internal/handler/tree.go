package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/treereader/pkg/treereader"
)

// fileJSON is one file in a tree or search response. Text files carry
// Content; anything that is not valid UTF-8 is sent as ContentBase64.
type fileJSON struct {
	Path          string `json:"path"`
	URL           string `json:"url"`
	Size          int    `json:"size"`
	Content       string `json:"content,omitempty"`
	ContentBase64 []byte `json:"contentBase64,omitempty"`
}

type treeJSON struct {
	ETag  string     `json:"etag"`
	Files []fileJSON `json:"files"`
}

// Tree handles GET /tree?url=...
func (h *Handler) Tree(c *gin.Context) {
	etag := requestETag(c)
	res, err := h.reader.ReadTree(c.Request.Context(), c.Query("url"), treereader.ReadTreeOptions{ETag: etag})
	if err != nil {
		h.readFailed(c, "read tree failed", err)
		return
	}
	writeTree(c, res.Fingerprint, res.Files)
}

// Search handles GET /search?url=... where the url ends in a glob.
func (h *Handler) Search(c *gin.Context) {
	etag := requestETag(c)
	res, err := h.reader.Search(c.Request.Context(), c.Query("url"), treereader.SearchOptions{ETag: etag})
	if err != nil {
		h.readFailed(c, "search failed", err)
		return
	}
	writeTree(c, res.Fingerprint, res.Files)
}

func (h *Handler) readFailed(c *gin.Context, msg string, err error) {
	if treereader.IsNotModified(err) {
		c.Header("ETag", quoteETag(requestETag(c)))
		c.Status(http.StatusNotModified)
		return
	}
	h.fail(c, msg, err)
}

func writeTree(c *gin.Context, fingerprint string, files []treereader.FileHandle) {
	out := treeJSON{ETag: fingerprint, Files: make([]fileJSON, 0, len(files))}
	for _, f := range files {
		content := f.Content()
		fj := fileJSON{Path: f.Path, URL: f.URL, Size: len(content)}
		if utf8.Valid(content) {
			fj.Content = string(content)
		} else {
			fj.ContentBase64 = content
		}
		out.Files = append(out.Files, fj)
	}
	c.Header("ETag", quoteETag(fingerprint))
	c.JSON(http.StatusOK, out)
}

// requestETag prefers the etag query parameter and falls back to the first
// entity tag of If-None-Match.
func requestETag(c *gin.Context) string {
	if v := c.Query("etag"); v != "" {
		return v
	}
	inm := c.GetHeader("If-None-Match")
	if inm == "" {
		return ""
	}
	first, _, _ := strings.Cut(inm, ",")
	return unquoteETag(first)
}

func quoteETag(tag string) string {
	return `"` + tag + `"`
}

func unquoteETag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}
