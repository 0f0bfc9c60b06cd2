package registry

import (
	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/providers"
	"go.uber.org/zap"
)

// Router selects the next provider to try for a request: cost-ascending
// among capable, healthy, not-yet-excluded providers.
type Router struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRouter creates a router over the given registry
func NewRouter(registry *Registry, logger *zap.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// SelectNext returns the cheapest provider that can serve the request.
// Filtering: capability tags satisfied, complexity within range, vision
// supported if the request carries an image, health not unavailable, not in
// excluded, and estimated cost within the remaining budget. Ties on cost
// prefer available over degraded. Returns ErrNoProviderAvailable when no
// provider survives.
func (r *Router) SelectNext(req models.GenerationRequest, excluded map[string]bool, remainingBudget float64) (*models.ProviderDescriptor, float64, error) {
	var (
		best     *models.ProviderDescriptor
		bestCost float64
	)

	for _, d := range r.registry.Snapshot() {
		if excluded[d.ID] {
			continue
		}
		if d.Health == models.HealthUnavailable {
			continue
		}
		if d.MaxComplexity < req.Complexity {
			continue
		}
		if req.ImageHash != "" && !d.SupportsVision {
			continue
		}
		if !d.HasTag(string(req.Format)) {
			continue
		}

		in, out := providers.EstimateTokens(req)
		cost := providers.CostFor(&d, in, out)
		if cost > remainingBudget {
			continue
		}

		if best == nil || cost < bestCost ||
			(cost == bestCost && d.Health == models.HealthAvailable && best.Health == models.HealthDegraded) {
			c := d
			best = &c
			bestCost = cost
		}
	}

	if best == nil {
		return nil, 0, models.ErrNoProviderAvailable
	}

	r.logger.Debug("provider selected",
		zap.String("provider", best.ID),
		zap.Float64("estimated_cost", bestCost),
		zap.String("health", string(best.Health)),
	)
	return best, bestCost, nil
}
