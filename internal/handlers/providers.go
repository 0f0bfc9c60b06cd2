package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loomworks/api/internal/registry"
)

// ProvidersHandler exposes the registry's current routing view
type ProvidersHandler struct {
	registry *registry.Registry
}

// NewProvidersHandler creates a new providers handler
func NewProvidersHandler(reg *registry.Registry) *ProvidersHandler {
	return &ProvidersHandler{registry: reg}
}

// List returns every registered provider with its effective health
func (h *ProvidersHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.registry.Snapshot()})
}
