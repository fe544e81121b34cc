// Package handler exposes tree reads and watches over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/treereader/apps/server/internal/watch"
	"github.com/tilsley/treereader/pkg/treereader"
)

// TreeReader is the part of treereader.Reader served over HTTP.
type TreeReader interface {
	ReadTree(ctx context.Context, rawURL string, opts treereader.ReadTreeOptions) (*treereader.TreeResult, error)
	Search(ctx context.Context, rawURL string, opts treereader.SearchOptions) (*treereader.SearchResult, error)
}

// Compile-time check: *treereader.Reader satisfies TreeReader.
var _ TreeReader = (*treereader.Reader)(nil)

// Handler translates HTTP requests into reader and watch calls.
type Handler struct {
	reader TreeReader
	poller *watch.Poller
	store  watch.Store
	log    *slog.Logger
}

// RegisterRoutes mounts the treereader API onto r.
func RegisterRoutes(r *gin.Engine, reader TreeReader, poller *watch.Poller, store watch.Store, log *slog.Logger) {
	h := &Handler{reader: reader, poller: poller, store: store, log: log}

	r.GET("/health", h.Health)

	r.GET("/tree", h.Tree)
	r.GET("/search", h.Search)

	r.GET("/watches", h.ListWatches)
	r.POST("/watches", h.AddWatch)
	r.DELETE("/watches", h.RemoveWatch)
	r.GET("/watches/snapshots", h.Snapshots)
	r.POST("/watches/poll", h.Poll)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
