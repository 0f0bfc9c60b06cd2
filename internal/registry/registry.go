package registry

import (
	"sync"
	"time"

	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/providers"
	"go.uber.org/zap"
)

// Registry is the table of available generation providers and the single
// owner of their health state. The orchestrator never mutates health
// directly; every attempt outcome flows through ReportOutcome.
type Registry struct {
	mu               sync.RWMutex
	descriptors      map[string]*models.ProviderDescriptor
	impls            map[string]providers.Provider
	degradedCooldown time.Duration
	unavailableAfter int
	logger           *zap.Logger

	now func() time.Time // injectable for tests
}

// New creates an empty registry
func New(degradedCooldown time.Duration, unavailableAfter int, logger *zap.Logger) *Registry {
	if unavailableAfter < 1 {
		unavailableAfter = 3
	}
	return &Registry{
		descriptors:      make(map[string]*models.ProviderDescriptor),
		impls:            make(map[string]providers.Provider),
		degradedCooldown: degradedCooldown,
		unavailableAfter: unavailableAfter,
		logger:           logger,
		now:              time.Now,
	}
}

// Register adds a provider and its descriptor. New providers start available.
func (r *Registry) Register(descriptor models.ProviderDescriptor, impl providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := descriptor
	if d.Health == "" {
		d.Health = models.HealthAvailable
	}
	r.descriptors[d.ID] = &d
	r.impls[d.ID] = impl
}

// Provider returns the implementation for a descriptor id
func (r *Registry) Provider(id string) (providers.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[id]
	return impl, ok
}

// Snapshot returns copies of all descriptors with effective health applied
// (a degraded provider whose cooldown has lapsed reads as available).
func (r *Registry) Snapshot() []models.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ProviderDescriptor, 0, len(r.descriptors))
	now := r.now()
	for _, d := range r.descriptors {
		c := *d
		if c.Health == models.HealthDegraded && now.After(c.DegradedUntil) {
			c.Health = models.HealthAvailable
		}
		out = append(out, c)
	}
	return out
}

// ReportOutcome feeds one attempt result back into health state. A success
// restores the provider to available. A transient failure (timeout, rate
// limit) degrades it for the cooldown window; enough consecutive failures of
// any kind mark it unavailable until a later success probes it back.
func (r *Registry) ReportOutcome(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[id]
	if !ok {
		return
	}

	if err == nil {
		if d.Health != models.HealthAvailable {
			r.logger.Info("provider recovered", zap.String("provider", id))
		}
		d.Health = models.HealthAvailable
		d.ConsecutiveFails = 0
		return
	}

	d.ConsecutiveFails++

	if d.ConsecutiveFails >= r.unavailableAfter {
		if d.Health != models.HealthUnavailable {
			r.logger.Warn("provider marked unavailable",
				zap.String("provider", id),
				zap.Int("consecutive_failures", d.ConsecutiveFails),
			)
		}
		d.Health = models.HealthUnavailable
		return
	}

	if providers.Transient(err) {
		d.Health = models.HealthDegraded
		d.DegradedUntil = r.now().Add(r.degradedCooldown)
		r.logger.Info("provider degraded",
			zap.String("provider", id),
			zap.Time("until", d.DegradedUntil),
			zap.Error(err),
		)
	}
}
