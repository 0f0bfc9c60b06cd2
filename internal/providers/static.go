package providers

import (
	"context"
	"sync/atomic"

	"github.com/loomworks/api/internal/models"
)

// StaticProvider returns a canned artifact. Used in development mode and as
// the test double for orchestration tests.
type StaticProvider struct {
	Descriptor models.ProviderDescriptor
	Artifact   string
	Err        error

	// Delay gates each call until released when non-nil; lets tests hold a
	// generation in flight.
	Delay chan struct{}

	calls atomic.Int64
}

func (p *StaticProvider) ID() string {
	return p.Descriptor.ID
}

func (p *StaticProvider) CapabilityTags() []string {
	return p.Descriptor.CapabilityTags
}

func (p *StaticProvider) EstimateCost(req models.GenerationRequest) float64 {
	in, out := EstimateTokens(req)
	return CostFor(&p.Descriptor, in, out)
}

func (p *StaticProvider) Generate(ctx context.Context, req models.GenerationRequest) (*Result, error) {
	p.calls.Add(1)

	if p.Delay != nil {
		select {
		case <-p.Delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.Err != nil {
		return nil, p.Err
	}

	in, out := EstimateTokens(req)
	return &Result{Artifact: p.Artifact, TokensIn: in, TokensOut: out}, nil
}

// Calls reports how many times Generate was invoked
func (p *StaticProvider) Calls() int64 {
	return p.calls.Load()
}
