package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loomworks/api/internal/middleware"
	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/orchestrator"
	"github.com/loomworks/api/internal/provenance"
	"go.uber.org/zap"
)

// GenerationHandler handles the synchronous generation endpoint
type GenerationHandler struct {
	orchestrator   *orchestrator.Orchestrator
	provenance     *provenance.Service
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(orch *orchestrator.Orchestrator, prov *provenance.Service, requestTimeout time.Duration, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{orchestrator: orch, provenance: prov, requestTimeout: requestTimeout, logger: logger}
}

// GenerateResponse is the success body, the result plus a signed certificate
// attesting the artifact's origin and quality
type GenerateResponse struct {
	models.GenerationResult
	Certificate provenance.Certificate `json:"certificate"`
}

// GenerateRequest is the request body for a generation
type GenerateRequest struct {
	Description      string            `json:"description" binding:"required"`
	Format           string            `json:"format" binding:"required"`
	Complexity       int               `json:"complexity"`
	StylePreferences map[string]string `json:"style_preferences"`
	ImageHash        string            `json:"image_hash"`
}

// Generate runs one generation request end to end and returns the artifact
// or the rejection reason
func (h *GenerationHandler) Generate(c *gin.Context) {
	var body GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}

	tenantID, tier, ok := middleware.TenantFromContext(c)
	if !ok {
		middleware.Unauthorized(c, "unauthenticated")
		return
	}

	format := models.TargetFormat(body.Format)
	if !format.Valid() {
		middleware.BadRequest(c, "format must be one of markup, component, template")
		return
	}

	complexity := body.Complexity
	if complexity == 0 {
		complexity = 3
	}
	if complexity < 1 || complexity > 5 {
		middleware.BadRequest(c, "complexity must be between 1 and 5")
		return
	}

	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	result := h.orchestrator.Generate(ctx, models.GenerationRequest{
		TenantID:         tenantID,
		Tier:             tier,
		Description:      body.Description,
		Format:           format,
		Complexity:       complexity,
		StylePreferences: body.StylePreferences,
		ImageHash:        body.ImageHash,
	})

	if result.Success {
		var composite float64
		if result.Quality != nil {
			composite = result.Quality.Composite
		}
		cert := h.provenance.Issue(result.Artifact, result.ProviderUsed, composite, result.CacheHit)
		c.JSON(http.StatusOK, GenerateResponse{GenerationResult: result, Certificate: cert})
		return
	}

	switch result.Reason {
	case models.RejectBudgetExceeded:
		middleware.BudgetExceeded(c, "Daily budget window is exhausted for this tenant")
	case models.RejectNoProvider:
		middleware.NoProviderAvailable(c)
	case models.RejectRetriesExhausted:
		middleware.RetriesExhausted(c)
	case models.RejectCancelled:
		middleware.RespondError(c, http.StatusRequestTimeout, middleware.ErrCodeRequestCancelled, "Request was cancelled before completion")
	case models.RejectInvalidRequest:
		middleware.BadRequest(c, "request failed validation")
	default:
		h.logger.Error("generation failed without a reason", zap.String("tenant_id", tenantID.String()))
		middleware.InternalError(c, "generation failed")
	}
}
