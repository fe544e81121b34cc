package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tilsley/treereader/apps/server/internal/watch"
	"github.com/tilsley/treereader/pkg/treereader"
)

// statusFor maps an error to its HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	var (
		invalid   treereader.InvalidURLError
		refGone   treereader.RefNotFoundError
		empty     treereader.EmptyTreeError
		fetch     treereader.ArchiveFetchError
		format    treereader.ArchiveFormatError
		upstream  treereader.UpstreamUnavailableError
		unwatched watch.WatchNotFoundError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "invalid_url"
	case errors.As(err, &refGone):
		return http.StatusNotFound, "ref_not_found"
	case errors.As(err, &empty):
		return http.StatusNotFound, "empty_tree"
	case errors.As(err, &unwatched):
		return http.StatusNotFound, "watch_not_found"
	case errors.As(err, &fetch):
		return http.StatusBadGateway, "archive_fetch"
	case errors.As(err, &format):
		return http.StatusBadGateway, "archive_format"
	case errors.As(err, &upstream):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail writes err as a JSON error body. Server-side failures are logged.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "path", c.Request.URL.Path, "error", err)
	} else {
		h.log.Debug(msg, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
