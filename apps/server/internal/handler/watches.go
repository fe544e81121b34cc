package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/treereader/apps/server/internal/watch"
)

const defaultSnapshotLimit = 20

type addWatchRequest struct {
	URL string `json:"url" binding:"required"`
}

// ListWatches handles GET /watches.
func (h *Handler) ListWatches(c *gin.Context) {
	items, err := h.store.List(c.Request.Context())
	if err != nil {
		h.fail(c, "list watches failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watches": items})
}

// AddWatch handles POST /watches. The URL is validated but not fetched; the
// next poll establishes its fingerprint.
func (h *Handler) AddWatch(c *gin.Context) {
	var req addWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.poller.Add(ctx, req.URL); err != nil {
		h.fail(c, "add watch failed", err)
		return
	}
	w, err := h.store.Get(ctx, req.URL)
	if err != nil {
		h.fail(c, "get watch failed", err)
		return
	}
	if w == nil {
		h.fail(c, "get watch failed", watch.WatchNotFoundError{URL: req.URL})
		return
	}
	h.log.Info("watch added", "url", req.URL)
	c.JSON(http.StatusCreated, w)
}

// RemoveWatch handles DELETE /watches?url=...
func (h *Handler) RemoveWatch(c *gin.Context) {
	url := c.Query("url")
	ctx := c.Request.Context()
	w, err := h.store.Get(ctx, url)
	if err != nil {
		h.fail(c, "get watch failed", err)
		return
	}
	if w == nil {
		h.fail(c, "remove watch failed", watch.WatchNotFoundError{URL: url})
		return
	}
	if err := h.store.Remove(ctx, url); err != nil {
		h.fail(c, "remove watch failed", err)
		return
	}
	h.log.Info("watch removed", "url", url)
	c.Status(http.StatusNoContent)
}

// Snapshots handles GET /watches/snapshots?url=...&limit=N.
func (h *Handler) Snapshots(c *gin.Context) {
	url := c.Query("url")
	limit := defaultSnapshotLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	w, err := h.store.Get(ctx, url)
	if err != nil {
		h.fail(c, "get watch failed", err)
		return
	}
	if w == nil {
		h.fail(c, "list snapshots failed", watch.WatchNotFoundError{URL: url})
		return
	}
	snaps, err := h.store.Snapshots(ctx, url, limit)
	if err != nil {
		h.fail(c, "list snapshots failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// Poll handles POST /watches/poll and checks every watch once.
func (h *Handler) Poll(c *gin.Context) {
	results, err := h.poller.PollOnce(c.Request.Context())
	if err != nil {
		h.fail(c, "poll failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
