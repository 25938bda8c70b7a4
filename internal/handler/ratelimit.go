package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/archivist/gateway/internal/ratelimit"
)

type WindowInspector interface {
	Peek(ctx context.Context, identity string) (ratelimit.WindowState, error)
}

type RateLimitHandler struct {
	limiter WindowInspector
}

func NewRateLimitHandler(limiter WindowInspector) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// Handles GET /admin/ratelimit/:identity. Reading a window never counts
// as a request.
func (h *RateLimitHandler) Window(c *gin.Context) {
	identity := c.Param("identity")
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		return
	}

	state, err := h.limiter.Peek(c.Request.Context(), identity)
	switch {
	case errors.Is(err, ratelimit.ErrPeekUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identity": identity,
		"window":   state,
	})
}
