package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/loomworks/api/internal/ledger"
	"github.com/loomworks/api/internal/middleware"
	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/providers"
	"github.com/loomworks/api/internal/registry"
	"go.uber.org/zap"
)

// BudgetHandler exposes a tenant's budget window and pre-flight cost
// estimates
type BudgetHandler struct {
	ledger   ledger.Ledger
	registry *registry.Registry
	logger   *zap.Logger
}

// NewBudgetHandler creates a new budget handler
func NewBudgetHandler(led ledger.Ledger, reg *registry.Registry, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{ledger: led, registry: reg, logger: logger}
}

// GetBudget returns the tenant's current window and alert status
func (h *BudgetHandler) GetBudget(c *gin.Context) {
	tenantID, tier, ok := middleware.TenantFromContext(c)
	if !ok {
		middleware.Unauthorized(c, "unauthenticated")
		return
	}

	window, err := h.ledger.Window(c.Request.Context(), tenantID, tier)
	if err != nil {
		h.logger.Error("failed to read budget window", zap.Error(err))
		middleware.InternalError(c, "budget window is unavailable")
		return
	}
	alerted, err := h.ledger.AlertCheck(c.Request.Context(), tenantID, tier)
	if err != nil {
		alerted = false
	}

	c.JSON(http.StatusOK, gin.H{
		"window":    window,
		"remaining": window.Remaining(),
		"alert":     alerted,
	})
}

// EstimateCostRequest is the request body for a pre-flight cost estimate
type EstimateCostRequest struct {
	Description string `json:"description" binding:"required"`
	Format      string `json:"format" binding:"required"`
	Complexity  int    `json:"complexity"`
}

// ProviderEstimate is one provider's predicted cost for the request
type ProviderEstimate struct {
	Provider      string             `json:"provider"`
	EstimatedCost float64            `json:"estimated_cost"`
	Health        models.HealthState `json:"health"`
}

// EstimateCost predicts what each capable provider would charge for the
// request, cheapest first
func (h *BudgetHandler) EstimateCost(c *gin.Context) {
	var body EstimateCostRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.BadRequest(c, err.Error())
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

	req := models.GenerationRequest{
		Description: body.Description,
		Format:      format,
		Complexity:  complexity,
	}
	tokensIn, tokensOut := providers.EstimateTokens(req)

	var estimates []ProviderEstimate
	for _, d := range h.registry.Snapshot() {
		if !d.HasTag(string(format)) || d.MaxComplexity < complexity {
			continue
		}
		estimates = append(estimates, ProviderEstimate{
			Provider:      d.ID,
			EstimatedCost: providers.CostFor(&d, tokensIn, tokensOut),
			Health:        d.Health,
		})
	}
	sort.Slice(estimates, func(i, j int) bool {
		return estimates[i].EstimatedCost < estimates[j].EstimatedCost
	})

	c.JSON(http.StatusOK, gin.H{
		"tokens_in":  tokensIn,
		"tokens_out": tokensOut,
		"estimates":  estimates,
	})
}
