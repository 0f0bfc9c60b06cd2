package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loomworks/api/internal/cache"
	"github.com/loomworks/api/internal/middleware"
	"go.uber.org/zap"
)

// CacheHandler exposes cache effectiveness stats and a manual eviction pass
type CacheHandler struct {
	store  cache.Store
	logger *zap.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(store cache.Store, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{store: store, logger: logger}
}

// Stats returns hit/miss counters, entry count and cumulative cost saved
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read cache stats", zap.Error(err))
		middleware.RespondError(c, http.StatusServiceUnavailable, middleware.ErrCodeCacheUnavailable, "cache is unavailable")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Evict runs one eviction pass and reports how many entries were removed
func (h *CacheHandler) Evict(c *gin.Context) {
	removed, err := h.store.Evict(c.Request.Context())
	if err != nil {
		h.logger.Error("manual eviction failed", zap.Error(err))
		middleware.RespondError(c, http.StatusServiceUnavailable, middleware.ErrCodeCacheUnavailable, "cache is unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
