// Package api exposes a document store over HTTP for boostd.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	Store   sdk.DocumentStore
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// Register mounts the document routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/docs/*path", h.GetDoc)
	r.PUT("/docs/*path", h.SetDoc)
	r.DELETE("/docs/*path", h.DeleteDoc)
	r.GET("/collections/*path", h.Query)
}

func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if p, ok := h.Store.(sdk.Pinger); ok {
		latency, err := p.Ping(c.Request.Context())
		if err != nil {
			h.logger().Warn("Backend ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		resp["latencyMs"] = latency.Milliseconds()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDoc(c *gin.Context) {
	doc, err := h.Store.Get(c.Request.Context(), docPath(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// SetDoc writes the request body as the document. ?merge=true merges its
// top-level fields into the stored document.
func (h *Handler) SetDoc(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := sanitize.Document(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merge := c.Query("merge") == "true"
	if err := h.Store.Set(c.Request.Context(), docPath(c), doc, merge); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteDoc(c *gin.Context) {
	if err := h.Store.Delete(c.Request.Context(), docPath(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) Query(c *gin.Context) {
	snaps, err := h.Store.Query(c.Request.Context(), docPath(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func docPath(c *gin.Context) string {
	return strings.Trim(c.Param("path"), "/")
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sdk.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sdk.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger().Error("Document store request failed",
			zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) logger() *zap.Logger {
	return logger.OrNop(h.Log)
}

// BearerAuth rejects requests that do not present token. An empty token
// disables the check.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Instrument records the outcome and latency of every request.
func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		op := c.FullPath()
		if op == "" {
			op = "unmatched"
		}
		m.DocstoreRequest(c.Request.Method+" "+op, c.Writer.Status(), time.Since(start))
	}
}
