package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomworks/api/internal/models"
)

// Typed provider failures. Timeout and rate limiting are transient and drive
// fallback; an invalid response is treated the same way by the orchestrator
// but marks the provider harder in the registry.
var (
	ErrTimeout         = errors.New("provider timeout")
	ErrRateLimited     = errors.New("provider rate limited")
	ErrInvalidResponse = errors.New("provider returned invalid response")
)

// Transient reports whether a provider error is a transient failure
// (cooldown) rather than a hard one.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// Result is a successful generation: the artifact plus token accounting
// used for cost calculation.
type Result struct {
	Artifact  string
	TokensIn  int
	TokensOut int
}

// Provider is one generation backend. Implementations are a closed set of
// variants behind this interface; the registry owns which of them are
// routable at any moment.
type Provider interface {
	ID() string
	CapabilityTags() []string

	// EstimateCost predicts the dollar cost of serving the request,
	// using the descriptor's per-token pricing.
	EstimateCost(req models.GenerationRequest) float64

	// Generate runs one generation call. It honors ctx cancellation and
	// returns one of the typed failures above on error.
	Generate(ctx context.Context, req models.GenerationRequest) (*Result, error)
}

// EstimateTokens predicts input/output token counts from the request. Input
// scales with the description; output with the target format's typical
// expansion factor. Shared by every provider variant so estimates and router
// decisions stay consistent.
func EstimateTokens(req models.GenerationRequest) (in, out int) {
	words := len(req.Description) / 5
	if words < 20 {
		words = 20
	}
	in = int(float64(words)*1.3) + 200 // prompt scaffold overhead

	multiplier := 1.5
	switch req.Format {
	case models.FormatComponent:
		multiplier = 2.5
	case models.FormatMarkup:
		multiplier = 2.0
	case models.FormatTemplate:
		multiplier = 1.8
	}
	out = int(float64(in) * multiplier * (1 + float64(req.Complexity)/5))
	return in, out
}

// CostFor converts token counts to dollars for a descriptor's pricing
func CostFor(d *models.ProviderDescriptor, tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1_000_000*d.InputCostPer1M +
		float64(tokensOut)/1_000_000*d.OutputCostPer1M
}

// BuildPrompt renders the structured prompt sent to a provider for the
// requested target format.
func BuildPrompt(req models.GenerationRequest) string {
	var style string
	for k, v := range req.StylePreferences {
		style += fmt.Sprintf("- %s: %s\n", k, v)
	}

	var task string
	switch req.Format {
	case models.FormatMarkup:
		task = "Produce a complete, standalone HTML document."
	case models.FormatComponent:
		task = "Produce a single exported React component in TypeScript."
	case models.FormatTemplate:
		task = "Produce a reusable template with {{placeholder}} slots."
	default:
		task = "Produce the requested artifact."
	}

	prompt := fmt.Sprintf(
		"%s\nComplexity level: %d of 5.\nDescription:\n%s\n",
		task, req.Complexity, req.Description,
	)
	if style != "" {
		prompt += "Style preferences:\n" + style
	}
	if req.ImageHash != "" {
		prompt += fmt.Sprintf("Reference image: %s\n", req.ImageHash)
	}
	return prompt
}
