package orchestrator

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/cache"
	"github.com/loomworks/api/internal/eventbus"
	"github.com/loomworks/api/internal/fingerprint"
	"github.com/loomworks/api/internal/ledger"
	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/providers"
	"github.com/loomworks/api/internal/quality"
	"github.com/loomworks/api/internal/registry"
	"github.com/loomworks/api/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/loomworks/api/internal/orchestrator")

// Config carries the orchestrator's collaborators and tuning knobs.
// Bus, Metrics and Journal may be nil; everything else is required.
type Config struct {
	Fingerprinter *fingerprint.Fingerprinter
	Cache         cache.Store
	Ledger        ledger.Ledger
	Registry      *registry.Registry
	Router        *registry.Router
	Gate          *quality.Gate
	Journal       *ledger.Journal
	Bus           *eventbus.Bus
	Metrics       *telemetry.Metrics
	Logger        *zap.Logger

	MaxAttempts          int
	ProviderTimeout      time.Duration
	SimilarityMinQuality float64
	CacheTTL             time.Duration
}

// Orchestrator drives one generation request through its lifecycle:
// cache lookup, provider routing, budget reservation, generation, quality
// validation and cache admission. Unrelated requests run concurrently; the
// only serialization points are the per-exact-key flight group and the
// tenant's ledger window.
type Orchestrator struct {
	fp      *fingerprint.Fingerprinter
	cache   cache.Store
	ledger  *guardedLedger
	reg     *registry.Registry
	router  *registry.Router
	gate    *quality.Gate
	journal *ledger.Journal
	bus     *eventbus.Bus
	metrics *telemetry.Metrics
	logger  *zap.Logger

	maxAttempts          int
	providerTimeout      time.Duration
	similarityMinQuality float64
	cacheTTL             time.Duration

	flights singleflight.Group
	now     func() time.Time
}

// New wires an orchestrator from its collaborators
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		fp:                   cfg.Fingerprinter,
		cache:                cfg.Cache,
		ledger:               &guardedLedger{inner: cfg.Ledger, logger: cfg.Logger},
		reg:                  cfg.Registry,
		router:               cfg.Router,
		gate:                 cfg.Gate,
		journal:              cfg.Journal,
		bus:                  cfg.Bus,
		metrics:              cfg.Metrics,
		logger:               cfg.Logger,
		maxAttempts:          cfg.MaxAttempts,
		providerTimeout:      cfg.ProviderTimeout,
		similarityMinQuality: cfg.SimilarityMinQuality,
		cacheTTL:             cfg.CacheTTL,
		now:                  time.Now,
	}
}

// Generate runs the full lifecycle for one request. Terminal failures are
// reported in the result's Reason, never as an error: the caller always gets
// a well-formed result to serialize.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest) models.GenerationResult {
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()

	requestID := uuid.New()

	if reason := validate(req); reason != models.RejectReasonNone {
		return reject(reason)
	}

	fp := o.fp.Compute(req)
	o.transition(requestID, req.TenantID, fp.ExactKey, StateReceived, "", 0)

	return o.await(ctx, requestID, req, fp, true)
}

// await joins the per-key flight. The first arrival runs the lifecycle;
// concurrent arrivals on the same exact key wait for its result instead of
// routing independently, then report it as a zero-cost cache hit.
func (o *Orchestrator) await(ctx context.Context, requestID uuid.UUID, req models.GenerationRequest, fp models.Fingerprint, retryShared bool) models.GenerationResult {
	// ran distinguishes the caller whose closure executed from callers that
	// piggybacked on it; Shared alone cannot, it is true for both.
	ran := false
	ch := o.flights.DoChan(fp.ExactKey, func() (interface{}, error) {
		ran = true
		return o.run(ctx, requestID, req, fp), nil
	})

	select {
	case <-ctx.Done():
		return reject(models.RejectCancelled)
	case flight := <-ch:
		result := flight.Val.(models.GenerationResult)
		if ran {
			return result
		}
		if result.Success {
			result.CacheHit = true
			result.Cost = 0
			return result
		}
		// The flight we piggybacked on failed for its own reasons
		// (possibly its caller cancelling). Retry the lookup once with
		// our own request before reporting failure.
		if retryShared {
			return o.await(ctx, requestID, req, fp, false)
		}
		return result
	}
}

// run executes the state machine. It runs at most once per exact key at a
// time; the flight group guarantees the key is released on every exit path.
func (o *Orchestrator) run(ctx context.Context, requestID uuid.UUID, req models.GenerationRequest, fp models.Fingerprint) models.GenerationResult {
	o.transition(requestID, req.TenantID, fp.ExactKey, StateCacheLookup, "", 0)

	entry, cacheHealthy := o.lookup(ctx, fp)
	if entry != nil {
		o.recordHit(ctx, entry)
		o.transition(requestID, req.TenantID, fp.ExactKey, StateDone, entry.Provider, 0)
		o.countOutcome("cache_hit")
		o.journalRecord(models.UsageRecord{
			TenantID: req.TenantID,
			Provider: entry.Provider,
			CacheHit: true,
		})
		score := entry.Quality
		return models.GenerationResult{
			Success:      true,
			Artifact:     entry.Artifact,
			Quality:      &score,
			ProviderUsed: entry.Provider,
			CacheHit:     true,
		}
	}

	excluded := make(map[string]bool)
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return reject(models.RejectCancelled)
		}

		result, retry := o.attempt(ctx, requestID, req, fp, excluded, cacheHealthy)
		if !retry {
			return result
		}
	}

	o.transition(requestID, req.TenantID, fp.ExactKey, StateRejected, "", 0)
	o.countOutcome("retries_exhausted")
	return reject(models.RejectRetriesExhausted)
}

// attempt runs one ROUTING → RESERVING → GENERATING pass. retry is true only
// for a recoverable provider failure; every other outcome is terminal.
func (o *Orchestrator) attempt(ctx context.Context, requestID uuid.UUID, req models.GenerationRequest, fp models.Fingerprint, excluded map[string]bool, cacheHealthy bool) (result models.GenerationResult, retry bool) {
	o.transition(requestID, req.TenantID, fp.ExactKey, StateRouting, "", 0)

	remaining := o.ledger.remaining(ctx, req.TenantID, req.Tier)
	descriptor, estimatedCost, err := o.router.SelectNext(req, excluded, remaining)
	if err != nil {
		o.transition(requestID, req.TenantID, fp.ExactKey, StateRejected, "", 0)
		o.countOutcome("no_provider")
		return reject(models.RejectNoProvider), false
	}

	o.transition(requestID, req.TenantID, fp.ExactKey, StateReserving, descriptor.ID, estimatedCost)
	reservation, err := o.ledger.inner.TryReserve(ctx, req.TenantID, req.Tier, estimatedCost)
	if err != nil {
		// Ledger outage fails closed: spend that cannot be verified is
		// not granted.
		o.logger.Error("budget reservation failed", zap.Error(err))
		o.transition(requestID, req.TenantID, fp.ExactKey, StateRejected, descriptor.ID, 0)
		o.countOutcome("budget_exceeded")
		return reject(models.RejectBudgetExceeded), false
	}
	if !reservation.Granted {
		o.transition(requestID, req.TenantID, fp.ExactKey, StateRejected, descriptor.ID, 0)
		if o.metrics != nil {
			o.metrics.BudgetRejections.Inc()
		}
		o.countOutcome("budget_exceeded")
		return reject(models.RejectBudgetExceeded), false
	}

	// Reservation is held from here. charged flips once the attempt
	// succeeds and the reservation is settled to the actual cost; any other
	// exit, including panic or cancellation, releases the full amount.
	charged := false
	defer func() {
		if !charged {
			o.ledger.release(req.TenantID, estimatedCost)
		}
	}()

	o.transition(requestID, req.TenantID, fp.ExactKey, StateGenerating, descriptor.ID, 0)
	generated, err := o.generateWith(ctx, descriptor.ID, req)
	if err != nil {
		o.logger.Warn("provider attempt failed",
			zap.String("provider", descriptor.ID),
			zap.Error(err),
		)
		excluded[descriptor.ID] = true
		if ctx.Err() != nil {
			return reject(models.RejectCancelled), false
		}
		return models.GenerationResult{}, true
	}

	actualCost := providers.CostFor(descriptor, generated.TokensIn, generated.TokensOut)
	o.ledger.settle(ctx, req.TenantID, estimatedCost, actualCost)
	charged = true

	o.transition(requestID, req.TenantID, fp.ExactKey, StateValidating, descriptor.ID, 0)
	score := o.gate.Evaluate(generated.Artifact, req.Format, req.Complexity)
	if o.metrics != nil {
		o.metrics.QualityComposites.Observe(score.Composite)
	}

	if o.gate.Admit(score) && cacheHealthy {
		o.transition(requestID, req.TenantID, fp.ExactKey, StateStoring, descriptor.ID, 0)
		o.store(ctx, fp, generated.Artifact, descriptor.ID, score, actualCost)
	}

	o.journalRecord(models.UsageRecord{
		TenantID:  req.TenantID,
		Provider:  descriptor.ID,
		TokensIn:  generated.TokensIn,
		TokensOut: generated.TokensOut,
		Cost:      actualCost,
	})
	o.checkAlert(ctx, req.TenantID, req.Tier)

	o.transition(requestID, req.TenantID, fp.ExactKey, StateDone, descriptor.ID, actualCost)
	o.countOutcome("generated")
	if o.metrics != nil {
		o.metrics.CostCharged.Add(actualCost)
	}

	return models.GenerationResult{
		Success:      true,
		Artifact:     generated.Artifact,
		Quality:      &score,
		ProviderUsed: descriptor.ID,
		Cost:         actualCost,
	}, false
}

// lookup tries the exact key, then the similarity index. A cache failure
// degrades to a miss and reports cacheHealthy=false so the attempt skips the
// later cache write as well.
func (o *Orchestrator) lookup(ctx context.Context, fp models.Fingerprint) (*models.CacheEntry, bool) {
	entry, err := o.cache.LookupExact(ctx, fp.ExactKey)
	if err != nil {
		o.logger.Warn("cache unavailable, degrading to miss", zap.Error(err))
		o.countLookup("unavailable")
		return nil, false
	}
	if entry != nil {
		o.countLookup("exact_hit")
		return entry, true
	}

	candidates, err := o.cache.LookupSimilar(ctx, fp.SimilarityKey)
	if err != nil {
		o.logger.Warn("cache unavailable, degrading to miss", zap.Error(err))
		o.countLookup("unavailable")
		return nil, false
	}
	// Candidates arrive quality-descending; the first one below the
	// acceptance floor ends the scan.
	for _, candidate := range candidates {
		if candidate.Quality.Composite < o.similarityMinQuality {
			break
		}
		o.countLookup("similar_hit")
		return candidate, true
	}

	o.countLookup("miss")
	return nil, true
}

func (o *Orchestrator) recordHit(ctx context.Context, entry *models.CacheEntry) {
	if err := o.cache.RecordHit(ctx, entry.ID, entry.OriginalCost); err != nil {
		o.logger.Warn("failed to record cache hit", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		return
	}
	if o.metrics != nil {
		o.metrics.CostSaved.Add(entry.OriginalCost)
	}
}

func (o *Orchestrator) store(ctx context.Context, fp models.Fingerprint, artifact, providerID string, score models.QualityScore, cost float64) {
	entry := &models.CacheEntry{
		ID:            uuid.New(),
		ExactKey:      fp.ExactKey,
		SimilarityKey: fp.SimilarityKey,
		Artifact:      artifact,
		Provider:      providerID,
		Quality:       score,
		OriginalCost:  cost,
		TTL:           o.cacheTTL,
		CreatedAt:     o.now(),
		LastAccessAt:  o.now(),
	}
	if err := o.cache.Put(ctx, entry); err != nil {
		o.logger.Warn("cache admission failed", zap.Error(err))
	}
}

// generateWith runs one provider call under its own timeout, so a slow
// provider triggers fallback instead of consuming the request deadline.
func (o *Orchestrator) generateWith(ctx context.Context, providerID string, req models.GenerationRequest) (*providers.Result, error) {
	impl, ok := o.reg.Provider(providerID)
	if !ok {
		return nil, models.ErrNoProviderAvailable
	}

	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	spanCtx, span := tracer.Start(callCtx, "provider.Generate")
	start := o.now()
	result, err := impl.Generate(spanCtx, req)
	span.End()

	o.reg.ReportOutcome(providerID, err)
	if o.metrics != nil {
		o.metrics.ProviderLatency.WithLabelValues(providerID).Observe(o.now().Sub(start).Seconds())
		if err != nil {
			o.metrics.ProviderFailures.WithLabelValues(providerID).Inc()
		}
	}
	return result, err
}

func (o *Orchestrator) checkAlert(ctx context.Context, tenantID uuid.UUID, tier models.Tier) {
	alerted, err := o.ledger.inner.AlertCheck(ctx, tenantID, tier)
	if err != nil || !alerted {
		return
	}
	o.logger.Warn("tenant approaching budget ceiling",
		zap.String("tenant_id", tenantID.String()),
		zap.String("tier", string(tier)),
	)
}

func (o *Orchestrator) journalRecord(rec models.UsageRecord) {
	if o.journal == nil {
		return
	}
	o.journal.Record(rec)
}

func (o *Orchestrator) countOutcome(outcome string) {
	if o.metrics != nil {
		o.metrics.Generations.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countLookup(result string) {
	if o.metrics != nil {
		o.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func validate(req models.GenerationRequest) models.RejectReason {
	if req.TenantID == uuid.Nil {
		return models.RejectInvalidRequest
	}
	if strings.TrimSpace(req.Description) == "" {
		return models.RejectInvalidRequest
	}
	if !req.Format.Valid() {
		return models.RejectInvalidRequest
	}
	return models.RejectReasonNone
}

func reject(reason models.RejectReason) models.GenerationResult {
	return models.GenerationResult{Reason: reason}
}

// guardedLedger wraps the ledger with the release and settlement behavior
// the state machine needs: releases run on a background context so a
// cancelled request still returns its reservation.
type guardedLedger struct {
	inner  ledger.Ledger
	logger *zap.Logger
}

func (g *guardedLedger) remaining(ctx context.Context, tenantID uuid.UUID, tier models.Tier) float64 {
	window, err := g.inner.Window(ctx, tenantID, tier)
	if err != nil {
		// Unknown headroom: let routing proceed, reservation will
		// decide authoritatively.
		return math.MaxFloat64
	}
	return window.Remaining()
}

func (g *guardedLedger) release(tenantID uuid.UUID, amount float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.inner.Release(ctx, tenantID, amount); err != nil {
		g.logger.Error("failed to release reservation",
			zap.String("tenant_id", tenantID.String()),
			zap.Float64("amount", amount),
			zap.Error(err),
		)
	}
}

// settle adjusts the held reservation to the actual cost once it is known.
func (g *guardedLedger) settle(ctx context.Context, tenantID uuid.UUID, estimated, actual float64) {
	diff := estimated - actual
	switch {
	case diff > 0:
		g.release(tenantID, diff)
	case diff < 0:
		// Actual ran over the estimate. The artifact is already paid
		// for, so record the overage even if it crowds the ceiling.
		if err := g.inner.Charge(ctx, tenantID, -diff); err != nil {
			g.logger.Warn("failed to record cost overage", zap.Error(err))
		}
	}
}
